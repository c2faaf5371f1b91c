package ratelimit

import (
	"context"
	"sync"
	"time"
)

// QuotaStore provides aggregated spend for quota sync.
type QuotaStore interface {
	SumCostSince(ctx context.Context, channelID string, since time.Time) (float64, error)
}

// budgetEntry tracks cumulative spend for a single channel's current window.
type budgetEntry struct {
	limit      float64
	consumed   float64
	windowFrom time.Time
}

// QuotaTracker enforces rolling spend budgets per channel. The window is
// reset whenever the caller rotates it (the consumed amount is reloaded from
// the store only by a later Sync), so a
// "monthly budget" is modeled as a window the admin layer rotates monthly.
type QuotaTracker struct {
	mu      sync.Mutex
	budgets map[string]*budgetEntry
}

// NewQuotaTracker creates a new QuotaTracker.
func NewQuotaTracker() *QuotaTracker {
	return &QuotaTracker{budgets: make(map[string]*budgetEntry)}
}

// Check returns true if channelID is within its budget. A limit of 0 means
// unlimited.
func (q *QuotaTracker) Check(channelID string, limit float64) bool {
	if limit <= 0 {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.budgets[channelID]
	if !ok {
		q.budgets[channelID] = &budgetEntry{limit: limit, windowFrom: time.Now()}
		return true
	}
	e.limit = limit
	return e.consumed < limit
}

// Consume adds costUSD to channelID's accumulated spend for the current window.
func (q *QuotaTracker) Consume(channelID string, costUSD float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.budgets[channelID]
	if !ok {
		e = &budgetEntry{windowFrom: time.Now()}
		q.budgets[channelID] = e
	}
	e.consumed += costUSD
}

// Sync reloads channelID's consumed amount from the store, scoped to its
// current window.
func (q *QuotaTracker) Sync(ctx context.Context, store QuotaStore, channelID string) error {
	q.mu.Lock()
	e, ok := q.budgets[channelID]
	if !ok {
		e = &budgetEntry{windowFrom: time.Now()}
		q.budgets[channelID] = e
	}
	windowFrom := e.windowFrom
	q.mu.Unlock()

	total, err := store.SumCostSince(ctx, channelID, windowFrom)
	if err != nil {
		return err
	}
	q.mu.Lock()
	e.consumed = total
	q.mu.Unlock()
	return nil
}

// SyncAll reloads consumed amounts for every tracked channel from the store.
func (q *QuotaTracker) SyncAll(ctx context.Context, store QuotaStore) error {
	q.mu.Lock()
	channelIDs := make([]string, 0, len(q.budgets))
	for id := range q.budgets {
		channelIDs = append(channelIDs, id)
	}
	q.mu.Unlock()

	for _, id := range channelIDs {
		if err := q.Sync(ctx, store, id); err != nil {
			return err
		}
	}
	return nil
}

// Preload seeds a budget entry for channelID without consuming any spend,
// so it is included in a subsequent SyncAll even before its first request.
// A no-op if an entry already exists.
func (q *QuotaTracker) Preload(channelID string, limit float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.budgets[channelID]; ok {
		return
	}
	q.budgets[channelID] = &budgetEntry{limit: limit, windowFrom: time.Now()}
}

// ResetWindow starts a new budget window for channelID, zeroing its tracked
// spend without touching the durable request-log history.
func (q *QuotaTracker) ResetWindow(channelID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.budgets[channelID]; ok {
		e.consumed = 0
		e.windowFrom = time.Now()
	}
}
