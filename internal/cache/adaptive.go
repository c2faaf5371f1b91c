package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMinTTL and DefaultMaxTTL bound every class's adaptive TTL.
	DefaultMinTTL = 5 * time.Second
	DefaultMaxTTL = 300 * time.Second
	// DefaultTargetHitRate is the hit rate the controller tries to hold.
	DefaultTargetHitRate = 0.85
	// DefaultAdjustmentInterval is how often TTLs are recomputed from the
	// accumulated hit/miss/access counters.
	DefaultAdjustmentInterval = 60 * time.Second
)

// ClassConfig tunes the adaptive controller for one cache class.
type ClassConfig struct {
	MinTTL             time.Duration
	MaxTTL             time.Duration
	TargetHitRate      float64
	AdjustmentInterval time.Duration
}

// DefaultClassConfig returns the spec's default tuning.
func DefaultClassConfig() ClassConfig {
	return ClassConfig{
		MinTTL:             DefaultMinTTL,
		MaxTTL:             DefaultMaxTTL,
		TargetHitRate:      DefaultTargetHitRate,
		AdjustmentInterval: DefaultAdjustmentInterval,
	}
}

// classState is one cache class's adaptive TTL and rolling counters.
type classState struct {
	cfg ClassConfig

	mu         sync.Mutex
	ttl        time.Duration
	windowFrom time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

func newClassState(cfg ClassConfig) *classState {
	return &classState{cfg: cfg, ttl: cfg.MinTTL, windowFrom: time.Now()}
}

// TTL returns the class's current adaptive TTL.
func (c *classState) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

func (c *classState) recordHit()  { c.hits.Add(1) }
func (c *classState) recordMiss() { c.misses.Add(1) }

// maybeAdjust recomputes the TTL if AdjustmentInterval has elapsed since the
// last adjustment, per spec §4.3's hit-rate and access-frequency rules.
func (c *classState) maybeAdjust(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := now.Sub(c.windowFrom)
	if elapsed < c.cfg.AdjustmentInterval {
		return
	}

	hits := c.hits.Swap(0)
	misses := c.misses.Swap(0)
	total := hits + misses
	c.windowFrom = now
	if total == 0 {
		return
	}

	hitRate := float64(hits) / float64(total)
	ttl := c.ttl

	switch {
	case hitRate < c.cfg.TargetHitRate:
		ttl = time.Duration(float64(ttl) * 1.2)
	case hitRate > c.cfg.TargetHitRate+0.10:
		ttl = time.Duration(float64(ttl) * 0.9)
	}

	accessRate := float64(total) / elapsed.Seconds()
	switch {
	case accessRate > 10:
		ttl = time.Duration(float64(ttl) * 0.9)
	case accessRate < 0.1:
		ttl = time.Duration(float64(ttl) * 1.2)
	}

	if ttl < c.cfg.MinTTL {
		ttl = c.cfg.MinTTL
	}
	if ttl > c.cfg.MaxTTL {
		ttl = c.cfg.MaxTTL
	}
	c.ttl = ttl
}

// Controller tracks an independent adaptive TTL per named cache class.
type Controller struct {
	mu      sync.Mutex
	cfg     ClassConfig
	classes map[string]*classState
}

// NewController returns a Controller using cfg for every class it creates.
func NewController(cfg ClassConfig) *Controller {
	return &Controller{cfg: cfg, classes: make(map[string]*classState)}
}

func (c *Controller) classFor(class string) *classState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.classes[class]
	if !ok {
		s = newClassState(c.cfg)
		c.classes[class] = s
	}
	return s
}

// TTL returns class's current TTL, triggering an adjustment pass first if
// the interval has elapsed.
func (c *Controller) TTL(class string) time.Duration {
	s := c.classFor(class)
	s.maybeAdjust(time.Now())
	return s.TTL()
}

// RecordHit/RecordMiss feed the adaptive controller's rolling counters.
func (c *Controller) RecordHit(class string)  { c.classFor(class).recordHit() }
func (c *Controller) RecordMiss(class string) { c.classFor(class).recordMiss() }
