// Package balancer selects a channel from a candidate set under one of
// four strategies: priority, round_robin, weighted, least_used.
package balancer

import (
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"

	routex "github.com/dctx/routex/internal"
)

// Strategy identifies a selection algorithm.
type Strategy string

const (
	StrategyPriority   Strategy = "priority"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyWeighted   Strategy = "weighted"
	StrategyLeastUsed  Strategy = "least_used"
)

// LoadBalancer picks a Channel from a candidate set. The active strategy
// is process-wide state, settable via the admin API.
type LoadBalancer struct {
	mu       sync.RWMutex
	strategy Strategy
	rng      *rand.Rand

	priorityCounters map[int]*uint64 // per-priority round-robin counter
	rrIndex          uint64          // global round-robin index
}

// New returns a LoadBalancer using the given strategy. A nonzero rngSeed
// seeds the weighted strategy's PRNG (tests pass a fixed seed to make it
// deterministic); 0 draws a seed from the global math/rand source.
func New(strategy Strategy, rngSeed int64) *LoadBalancer {
	var rng *rand.Rand
	if rngSeed != 0 {
		rng = rand.New(rand.NewSource(rngSeed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &LoadBalancer{
		strategy:         strategy,
		rng:              rng,
		priorityCounters: make(map[int]*uint64),
	}
}

// SetStrategy changes the active strategy.
func (lb *LoadBalancer) SetStrategy(s Strategy) {
	lb.mu.Lock()
	lb.strategy = s
	lb.mu.Unlock()
}

// Strategy returns the active strategy.
func (lb *LoadBalancer) Strategy() Strategy {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.strategy
}

// Select picks a channel from candidates, which must already be filtered
// to eligible (health-selectable, model-matching) channels. O(n).
func (lb *LoadBalancer) Select(candidates []*routex.Channel) (*routex.Channel, error) {
	if len(candidates) == 0 {
		return nil, routex.ErrNoChannelAvailable
	}

	lb.mu.RLock()
	strategy := lb.strategy
	lb.mu.RUnlock()

	switch strategy {
	case StrategyRoundRobin:
		return lb.selectRoundRobin(candidates), nil
	case StrategyWeighted:
		return lb.selectWeighted(candidates), nil
	case StrategyLeastUsed:
		return lb.selectLeastUsed(candidates), nil
	default:
		return lb.selectPriority(candidates), nil
	}
}

func sortedByName(candidates []*routex.Channel) []*routex.Channel {
	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b *routex.Channel) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return out
}

// selectPriority picks the highest-priority channel; ties are broken by a
// per-priority round-robin counter, then by name.
func (lb *LoadBalancer) selectPriority(candidates []*routex.Channel) *routex.Channel {
	best := candidates[0].Priority
	for _, c := range candidates {
		if c.Priority > best {
			best = c.Priority
		}
	}
	var tied []*routex.Channel
	for _, c := range candidates {
		if c.Priority == best {
			tied = append(tied, c)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	tied = sortedByName(tied)

	lb.mu.Lock()
	counter, ok := lb.priorityCounters[best]
	if !ok {
		var n uint64
		counter = &n
		lb.priorityCounters[best] = counter
	}
	idx := atomic.AddUint64(counter, 1) - 1
	lb.mu.Unlock()

	return tied[int(idx%uint64(len(tied)))]
}

// selectRoundRobin rotates a global index over name-sorted candidates.
func (lb *LoadBalancer) selectRoundRobin(candidates []*routex.Channel) *routex.Channel {
	sorted := sortedByName(candidates)
	idx := atomic.AddUint64(&lb.rrIndex, 1) - 1
	return sorted[int(idx%uint64(len(sorted)))]
}

// selectWeighted picks randomly with P(i) = weight_i / sum(weight).
func (lb *LoadBalancer) selectWeighted(candidates []*routex.Channel) *routex.Channel {
	var total int
	for _, c := range candidates {
		w := c.Weight
		if w < 1 {
			w = 1
		}
		total += w
	}

	lb.mu.Lock()
	r := lb.rng.Intn(total)
	lb.mu.Unlock()

	for _, c := range candidates {
		w := c.Weight
		if w < 1 {
			w = 1
		}
		if r < w {
			return c
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

// selectLeastUsed picks the smallest RequestCount; ties broken by highest
// priority, then name.
func (lb *LoadBalancer) selectLeastUsed(candidates []*routex.Channel) *routex.Channel {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b *routex.Channel) int {
		if a.RequestCount != b.RequestCount {
			if a.RequestCount < b.RequestCount {
				return -1
			}
			return 1
		}
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return sorted[0]
}
