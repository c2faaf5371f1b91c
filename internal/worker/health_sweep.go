package worker

import (
	"context"
	"time"

	"github.com/dctx/routex/internal/health"
)

const (
	healthSweepInterval = 5 * time.Minute
	healthStaleAfter    = 30 * time.Minute
)

// HealthSweepWorker periodically evicts Health records for channels that
// have not been selected or reported on recently, so a deleted or long-idle
// channel does not leak a registry entry forever.
type HealthSweepWorker struct {
	registry *health.Registry
}

// NewHealthSweepWorker creates a new health-sweep worker.
func NewHealthSweepWorker(registry *health.Registry) *HealthSweepWorker {
	return &HealthSweepWorker{registry: registry}
}

// Name returns the worker identifier.
func (w *HealthSweepWorker) Name() string { return "health_sweep" }

// Run evicts stale Health entries on a periodic schedule.
func (w *HealthSweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(healthSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.registry.EvictStale(time.Now().Add(-healthStaleAfter))
		}
	}
}
