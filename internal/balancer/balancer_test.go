package balancer

import (
	"testing"

	routex "github.com/dctx/routex/internal"
)

func ch(name string, priority, weight int, reqCount int64) *routex.Channel {
	return &routex.Channel{Name: name, Priority: priority, Weight: weight, RequestCount: reqCount, Status: routex.ChannelEnabled}
}

func TestSelectPriority(t *testing.T) {
	lb := New(StrategyPriority, 1)
	a, b, c := ch("A", 10, 1, 0), ch("B", 5, 1, 0), ch("C", 5, 1, 0)

	got, err := lb.Select([]*routex.Channel{a, b, c})
	if err != nil || got != a {
		t.Fatalf("expected A, got %v err %v", got, err)
	}

	// Without A, tie between B and C broken by round-robin then name.
	got, _ = lb.Select([]*routex.Channel{b, c})
	if got != b && got != c {
		t.Fatalf("expected B or C, got %v", got)
	}
}

func TestSelectNoChannels(t *testing.T) {
	lb := New(StrategyPriority, 1)
	_, err := lb.Select(nil)
	if err != routex.ErrNoChannelAvailable {
		t.Fatalf("expected ErrNoChannelAvailable, got %v", err)
	}
}

func TestSelectRoundRobin(t *testing.T) {
	lb := New(StrategyRoundRobin, 1)
	a, b := ch("A", 1, 1, 0), ch("B", 1, 1, 0)
	seen := map[string]int{}
	for i := 0; i < 10; i++ {
		got, _ := lb.Select([]*routex.Channel{a, b})
		seen[got.Name]++
	}
	if seen["A"] == 0 || seen["B"] == 0 {
		t.Errorf("round robin should alternate between candidates, got %v", seen)
	}
}

func TestSelectWeightedDeterministicSeed(t *testing.T) {
	lb := New(StrategyWeighted, 42)
	a, b := ch("A", 1, 99, 0), ch("B", 1, 1, 0)
	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		got, _ := lb.Select([]*routex.Channel{a, b})
		counts[got.Name]++
	}
	if counts["A"] < counts["B"] {
		t.Errorf("expected A (weight 99) to be selected far more than B (weight 1): %v", counts)
	}
}

func TestSelectLeastUsed(t *testing.T) {
	lb := New(StrategyLeastUsed, 1)
	a, b := ch("A", 1, 1, 100), ch("B", 1, 1, 5)
	got, _ := lb.Select([]*routex.Channel{a, b})
	if got != b {
		t.Fatalf("expected B (fewer requests), got %v", got)
	}
}

func TestPriorityScenarioEndToEnd(t *testing.T) {
	lb := New(StrategyPriority, 1)
	a := ch("A", 10, 1, 0)
	b := ch("B", 5, 1, 0)

	got, _ := lb.Select([]*routex.Channel{a, b})
	if got != a {
		t.Fatalf("expected A, got %v", got)
	}

	got, _ = lb.Select([]*routex.Channel{b}) // A disabled (excluded by caller)
	if got != b {
		t.Fatalf("expected B, got %v", got)
	}

	_, err := lb.Select(nil) // B disabled too
	if err != routex.ErrNoChannelAvailable {
		t.Fatalf("expected ErrNoChannelAvailable, got %v", err)
	}
}
