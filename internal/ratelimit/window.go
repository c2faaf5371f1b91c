package ratelimit

import (
	"sync"
	"time"
)

// Preset names the C10 ingress rate-limit tiers. Unlike Limiter's
// lazy-refill bucket (continuous, meant for per-identity RPM/TPM budgets),
// a Preset backs a hard fixed window: the counter resets in one jump when
// the window elapses, and RetryAfterSeconds is the time left in the current
// window rather than the time until a single slot frees up.
type Preset struct {
	Max    int
	Window time.Duration
}

// Presets are the named tiers the ingress assigns to route groups.
var Presets = map[string]Preset{
	"strict":   {Max: 10, Window: time.Minute},
	"standard": {Max: 100, Window: time.Minute},
	"lenient":  {Max: 1000, Window: time.Minute},
	"proxy":    {Max: 60, Window: time.Minute},
	"auth":     {Max: 5, Window: 15 * time.Minute},
}

// windowCounter is one key's fixed-window count.
type windowCounter struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// WindowLimiter enforces one Preset's fixed-window counter across keys
// (API-key prefix or client IP per §4.10's key function).
type WindowLimiter struct {
	preset   Preset
	mu       sync.RWMutex
	counters map[string]*windowCounter
}

// NewWindowLimiter creates a WindowLimiter for preset.
func NewWindowLimiter(preset Preset) *WindowLimiter {
	return &WindowLimiter{preset: preset, counters: make(map[string]*windowCounter)}
}

// Allow increments key's counter, resetting the window first if it has
// elapsed, and reports whether the request is within Max for this window.
func (l *WindowLimiter) Allow(key string) Result {
	now := time.Now()
	l.mu.RLock()
	c, ok := l.counters[key]
	l.mu.RUnlock()
	if !ok {
		l.mu.Lock()
		if c, ok = l.counters[key]; !ok {
			c = &windowCounter{resetAt: now.Add(l.preset.Window)}
			l.counters[key] = c
		}
		l.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if now.After(c.resetAt) {
		c.count = 0
		c.resetAt = now.Add(l.preset.Window)
	}
	c.count++

	remaining := l.preset.Max - c.count
	if remaining < 0 {
		remaining = 0
	}
	allowed := c.count <= l.preset.Max
	result := Result{Allowed: allowed, Limit: int64(l.preset.Max), Remaining: int64(remaining)}
	if !allowed {
		result.RetryAfterSeconds = c.resetAt.Sub(now).Seconds()
	}
	return result
}

// EvictStale removes counters whose window ended before cutoff.
func (l *WindowLimiter) EvictStale(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for k, c := range l.counters {
		c.mu.Lock()
		stale := c.resetAt.Before(cutoff)
		c.mu.Unlock()
		if stale {
			delete(l.counters, k)
			evicted++
		}
	}
	return evicted
}

// WindowRegistry holds one WindowLimiter per named preset, built once at
// startup from Presets.
type WindowRegistry struct {
	limiters map[string]*WindowLimiter
}

// NewWindowRegistry builds a WindowLimiter for every entry in Presets.
func NewWindowRegistry() *WindowRegistry {
	reg := &WindowRegistry{limiters: make(map[string]*WindowLimiter, len(Presets))}
	for name, preset := range Presets {
		reg.limiters[name] = NewWindowLimiter(preset)
	}
	return reg
}

// Allow applies the named preset's limiter to key. A preset not found in
// Presets is treated as unlimited (Allowed: true) rather than panicking, so
// a typo'd route annotation fails open instead of 500ing every request.
func (reg *WindowRegistry) Allow(preset, key string) Result {
	l, ok := reg.limiters[preset]
	if !ok {
		return Result{Allowed: true}
	}
	return l.Allow(key)
}
