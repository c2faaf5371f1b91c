package ratelimit

import (
	"testing"
	"time"
)

func TestWindowLimiterAllowsUpToMax(t *testing.T) {
	t.Parallel()
	l := NewWindowLimiter(Preset{Max: 3, Window: time.Minute})
	for i := 0; i < 3; i++ {
		if r := l.Allow("k"); !r.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	r := l.Allow("k")
	if r.Allowed {
		t.Fatal("4th request should be rejected")
	}
	if r.RetryAfterSeconds <= 0 {
		t.Fatal("expected a positive retry-after on rejection")
	}
}

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	t.Parallel()
	l := NewWindowLimiter(Preset{Max: 1, Window: 10 * time.Millisecond})
	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("first request should be allowed")
	}
	if r := l.Allow("k"); r.Allowed {
		t.Fatal("second request within window should be rejected")
	}
	time.Sleep(20 * time.Millisecond)
	if r := l.Allow("k"); !r.Allowed {
		t.Fatal("request after window reset should be allowed")
	}
}

func TestWindowLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()
	l := NewWindowLimiter(Preset{Max: 1, Window: time.Minute})
	if r := l.Allow("a"); !r.Allowed {
		t.Fatal("key a should be allowed")
	}
	if r := l.Allow("b"); !r.Allowed {
		t.Fatal("key b should be allowed independently of key a")
	}
}

func TestWindowRegistryUnknownPresetFailsOpen(t *testing.T) {
	t.Parallel()
	reg := NewWindowRegistry()
	if r := reg.Allow("nonexistent", "k"); !r.Allowed {
		t.Fatal("unknown preset should fail open")
	}
}

func TestWindowRegistryHasNamedPresets(t *testing.T) {
	t.Parallel()
	reg := NewWindowRegistry()
	for name, preset := range Presets {
		r := reg.Allow(name, "probe")
		if !r.Allowed || r.Limit != int64(preset.Max) {
			t.Fatalf("preset %q: got %+v, want limit %d", name, r, preset.Max)
		}
	}
}

func TestWindowLimiterEvictStale(t *testing.T) {
	t.Parallel()
	l := NewWindowLimiter(Preset{Max: 5, Window: time.Millisecond})
	l.Allow("k")
	time.Sleep(5 * time.Millisecond)
	if n := l.EvictStale(time.Now()); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
}
