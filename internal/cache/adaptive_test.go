package cache

import (
	"testing"
	"time"
)

func TestAdaptiveTTLGrowsOnLowHitRate(t *testing.T) {
	cfg := DefaultClassConfig()
	cfg.AdjustmentInterval = time.Millisecond
	c := NewController(cfg)

	start := c.TTL("routingRules")

	// Mostly misses -> hit rate well under target -> TTL should grow.
	for i := 0; i < 10; i++ {
		c.RecordMiss("routingRules")
	}
	c.RecordHit("routingRules")
	time.Sleep(2 * time.Millisecond)

	grown := c.TTL("routingRules")
	if grown <= start {
		t.Errorf("expected TTL to grow from %v, got %v", start, grown)
	}
}

func TestAdaptiveTTLShrinksOnHighHitRate(t *testing.T) {
	cfg := DefaultClassConfig()
	cfg.AdjustmentInterval = time.Millisecond
	cfg.MinTTL = time.Second
	c := NewController(cfg)
	// Seed a larger starting TTL so a shrink is observable above MinTTL.
	c.classFor("channels").ttl = 100 * time.Second

	for i := 0; i < 100; i++ {
		c.RecordHit("channels")
	}
	time.Sleep(2 * time.Millisecond)

	shrunk := c.TTL("channels")
	if shrunk >= 100*time.Second {
		t.Errorf("expected TTL to shrink from 100s, got %v", shrunk)
	}
}

func TestAdaptiveTTLClampedToBounds(t *testing.T) {
	cfg := DefaultClassConfig()
	cfg.AdjustmentInterval = time.Millisecond
	cfg.MinTTL = 5 * time.Second
	cfg.MaxTTL = 10 * time.Second
	c := NewController(cfg)
	c.classFor("channels").ttl = cfg.MaxTTL

	for i := 0; i < 10; i++ {
		c.RecordMiss("channels")
	}
	time.Sleep(2 * time.Millisecond)

	ttl := c.TTL("channels")
	if ttl > cfg.MaxTTL {
		t.Errorf("expected TTL clamped to MaxTTL %v, got %v", cfg.MaxTTL, ttl)
	}
}

func TestAdaptiveClassesAreIndependent(t *testing.T) {
	c := NewController(DefaultClassConfig())
	c.RecordHit("channels")
	c.RecordMiss("routingRules")

	if c.classFor("channels") == c.classFor("routingRules") {
		t.Error("expected distinct classState per class")
	}
}
