package worker

import (
	"context"
	"testing"
	"time"

	"github.com/dctx/routex/internal/health"
)

func TestHealthSweepWorker_RunCancelledContext(t *testing.T) {
	t.Parallel()

	registry := health.NewRegistry(health.Config{})
	w := NewHealthSweepWorker(registry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err != nil {
		t.Errorf("Run should return nil on cancelled context, got %v", err)
	}
}

func TestHealthSweepWorker_EvictsStaleEntries(t *testing.T) {
	t.Parallel()

	registry := health.NewRegistry(health.Config{})
	registry.GetOrCreate("chan-1")

	w := NewHealthSweepWorker(registry)
	evicted := registry.EvictStale(time.Now().Add(time.Hour))
	if evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}
	_ = w
}
