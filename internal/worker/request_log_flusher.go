package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	routex "github.com/dctx/routex/internal"
)

const (
	logChanSize   = 1000
	logBatchSize  = 100
	logFlushEvery = time.Second
	logDrainTime  = 30 * time.Second
)

// RequestLogStore is the persistence interface consumed by RequestLogFlusher.
type RequestLogStore interface {
	InsertRequestLogs(ctx context.Context, logs []routex.RequestLog) error
}

// RequestLogFlusher buffers finalized request logs and batch-flushes them to
// the store, satisfying proxy.Engine's RequestLogger interface. Records are
// dropped if the channel is full (back-pressure on a slow DB beats blocking
// the hot path).
type RequestLogFlusher struct {
	ch    chan routex.RequestLog
	store RequestLogStore
}

// NewRequestLogFlusher creates a RequestLogFlusher backed by store.
func NewRequestLogFlusher(store RequestLogStore) *RequestLogFlusher {
	return &RequestLogFlusher{
		ch:    make(chan routex.RequestLog, logChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (f *RequestLogFlusher) Name() string { return "request_log_flusher" }

// LogRequest enqueues a finalized request log. It never blocks; drops on a
// full channel.
func (f *RequestLogFlusher) LogRequest(rec routex.RequestLog) {
	select {
	case f.ch <- rec:
	default:
		slog.Warn("request log dropped, channel full")
	}
}

// Run processes logs until ctx is cancelled, then drains remaining ones.
// The flush cadence (1s or logBatchSize records, whichever comes first)
// bounds how stale admin-visible request history can be.
func (f *RequestLogFlusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	buf := make([]routex.RequestLog, 0, logBatchSize)

	for {
		select {
		case rec := <-f.ch:
			buf = append(buf, rec)
			if len(buf) >= logBatchSize {
				f.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				f.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			f.drain(buf)
			return nil
		}
	}
}

func (f *RequestLogFlusher) drain(buf []routex.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), logDrainTime)
	defer cancel()

	for {
		select {
		case rec := <-f.ch:
			buf = append(buf, rec)
			if len(buf) >= logBatchSize {
				f.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				f.flush(ctx, buf)
			}
			return
		}
	}
}

func (f *RequestLogFlusher) flush(ctx context.Context, buf []routex.RequestLog) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]routex.RequestLog, len(buf))
	copy(batch, buf)

	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := f.store.InsertRequestLogs(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
