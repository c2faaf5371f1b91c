package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	routex "github.com/dctx/routex/internal"
)

type fakeLogStore struct {
	mu      sync.Mutex
	batches [][]routex.RequestLog
}

func (s *fakeLogStore) InsertRequestLogs(_ context.Context, logs []routex.RequestLog) error {
	s.mu.Lock()
	s.batches = append(s.batches, logs)
	s.mu.Unlock()
	return nil
}

func (s *fakeLogStore) totalRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestRequestLogFlusher_BatchOnSize(t *testing.T) {
	t.Parallel()
	store := &fakeLogStore{}
	f := NewRequestLogFlusher(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	for i := range logBatchSize {
		f.LogRequest(routex.RequestLog{ID: string(rune('a' + i%26))})
	}

	deadline := time.After(2 * time.Second)
	for {
		if store.totalRecords() >= logBatchSize {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batch not flushed; got %d records", store.totalRecords())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	<-done
}

func TestRequestLogFlusher_FlushOnTimeout(t *testing.T) {
	t.Parallel()
	store := &fakeLogStore{}
	f := &RequestLogFlusher{
		ch:    make(chan routex.RequestLog, logChanSize),
		store: store,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.LogRequest(routex.RequestLog{ID: "test-1"})
	f.LogRequest(routex.RequestLog{ID: "test-2"})

	deadline := time.After(5 * time.Second)
	for {
		if store.totalRecords() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timeout flush not triggered; got %d records", store.totalRecords())
		default:
			time.Sleep(50 * time.Millisecond)
		}
	}

	cancel()
	<-done
}

func TestRequestLogFlusher_DropOnFull(t *testing.T) {
	t.Parallel()
	store := &fakeLogStore{}
	f := &RequestLogFlusher{
		ch:    make(chan routex.RequestLog, 2), // tiny buffer
		store: store,
	}

	f.LogRequest(routex.RequestLog{ID: "1"})
	f.LogRequest(routex.RequestLog{ID: "2"})
	// This should be dropped silently.
	f.LogRequest(routex.RequestLog{ID: "3"})

	if len(f.ch) != 2 {
		t.Errorf("channel len = %d, want 2", len(f.ch))
	}
}

func TestRequestLogFlusher_DrainOnShutdown(t *testing.T) {
	t.Parallel()
	store := &fakeLogStore{}
	f := NewRequestLogFlusher(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.LogRequest(routex.RequestLog{ID: "drain-1"})
	f.LogRequest(routex.RequestLog{ID: "drain-2"})

	time.Sleep(50 * time.Millisecond) // let the goroutine start
	cancel()
	<-done

	if store.totalRecords() < 2 {
		t.Errorf("expected at least 2 drained records, got %d", store.totalRecords())
	}
}
