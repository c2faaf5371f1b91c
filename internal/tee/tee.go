// Package tee implements best-effort async fan-out of finalized request
// records to admin-configured external sinks (HTTP/webhook or file).
package tee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	routex "github.com/dctx/routex/internal"
)

// Defaults for the retry/backoff schedule (§4.9): base 500ms, doubling,
// jitter +/-20%.
const (
	DefaultQueueDepth = 1024
	backoffBase       = 500 * time.Millisecond
	jitterFraction    = 0.20
)

// Store supplies the currently enabled tee destinations.
type Store interface {
	ListEnabledTees(ctx context.Context) ([]*routex.TeeDestination, error)
}

// job is one finalized record queued for fan-out.
type job struct {
	rec     routex.RequestLog
	preview []byte
}

// Dispatcher enqueues finalized records and delivers them to every
// matching enabled destination on background workers. Dispatch never
// blocks the caller's request beyond the channel send; a full queue drops
// the record and logs a warning rather than applying backpressure to the
// hot path.
type Dispatcher struct {
	store   Store
	client  *http.Client
	queue   chan job
	workers int

	fileMu sync.Map // file path -> *sync.Mutex, serializes appends per file
}

// NewDispatcher returns a Dispatcher backed by store, with queueDepth
// buffered jobs and workers concurrent delivery goroutines.
func NewDispatcher(store Store, client *http.Client, queueDepth, workers int) *Dispatcher {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{store: store, client: client, queue: make(chan job, queueDepth), workers: workers}
}

// Dispatch enqueues rec for fan-out. Implements proxy.TeeTrigger.
func (d *Dispatcher) Dispatch(rec routex.RequestLog, preview []byte) {
	select {
	case d.queue <- job{rec: rec, preview: preview}:
	default:
		slog.Warn("tee_queue_full", slog.String("request_id", rec.ID))
	}
}

// Name identifies this worker for the background runner.
func (d *Dispatcher) Name() string { return "tee_dispatcher" }

// Run drains the queue across d.workers goroutines until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.drain(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.fanOut(ctx, j)
		}
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, j job) {
	dests, err := d.store.ListEnabledTees(ctx)
	if err != nil {
		slog.WarnContext(ctx, "tee_list_error", slog.String("error", err.Error()))
		return
	}
	for _, dest := range dests {
		if !matches(dest.Filter, j.rec) {
			continue
		}
		d.deliver(ctx, dest, j)
	}
}

func matches(f *routex.TeeFilter, rec routex.RequestLog) bool {
	if f == nil {
		return true
	}
	if len(f.Models) > 0 && !containsStr(f.Models, rec.Model) {
		return false
	}
	if len(f.StatusCodes) > 0 && !containsInt(f.StatusCodes, rec.StatusCode) {
		return false
	}
	return true
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}

// deliver attempts dest.Retries+1 times with exponential backoff and
// jitter, bounded per-attempt by dest.TimeoutMs. Failures are logged only.
func (d *Dispatcher) deliver(ctx context.Context, dest *routex.TeeDestination, j job) {
	attempts := dest.Retries + 1
	backoff := backoffBase

	for attempt := 0; attempt < attempts; attempt++ {
		var err error
		switch dest.Type {
		case routex.TeeFile:
			err = d.deliverFile(dest, j)
		default: // http, webhook, custom all speak plain HTTP here
			err = d.deliverHTTP(ctx, dest, j)
		}
		if err == nil {
			return
		}
		if attempt == attempts-1 {
			slog.WarnContext(ctx, "tee_delivery_failed",
				slog.String("destination", dest.Name), slog.String("request_id", j.rec.ID),
				slog.String("error", err.Error()), slog.Int("attempts", attempts))
			return
		}

		jittered := applyJitter(backoff)
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return
		}
		backoff *= 2
	}
}

func applyJitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func (d *Dispatcher) deliverHTTP(ctx context.Context, dest *routex.TeeDestination, j job) error {
	payload, err := json.Marshal(struct {
		routex.RequestLog
		ResponsePreview json.RawMessage `json:"response_preview,omitempty"`
	}{RequestLog: j.rec, ResponsePreview: previewOrNil(j.preview)})
	if err != nil {
		return fmt.Errorf("tee: marshal record: %w", err)
	}

	timeout := time.Duration(dest.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := dest.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(reqCtx, method, dest.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tee: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("tee: do request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("tee: destination returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) deliverFile(dest *routex.TeeDestination, j job) error {
	muAny, _ := d.fileMu.LoadOrStore(dest.FilePath, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	line, err := json.Marshal(struct {
		routex.RequestLog
		ResponsePreview json.RawMessage `json:"response_preview,omitempty"`
	}{RequestLog: j.rec, ResponsePreview: previewOrNil(j.preview)})
	if err != nil {
		return fmt.Errorf("tee: marshal record: %w", err)
	}

	f, err := os.OpenFile(dest.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("tee: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("tee: write file: %w", err)
	}
	return nil
}

func previewOrNil(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}
