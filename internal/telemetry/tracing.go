package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// SetupTracing initializes OpenTelemetry tracing with an OTLP gRPC exporter
// plus an in-memory ring buffer feeding the /api/tracing admin surface.
// Returns a shutdown function that should be called on application exit.
func SetupTracing(ctx context.Context, endpoint string, sampleRate float64) (*SpanRecorder, func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("routex"),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	if sampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if sampleRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))
	}

	recorder := NewSpanRecorder(defaultRecorderCapacity)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSpanProcessor(recorder),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)

	return recorder, tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

const defaultRecorderCapacity = 1000

// RecordedSpan is a compact, JSON-friendly projection of a finished span for
// the admin tracing surface (spec §6 GET /api/tracing/stats|traces|traces/:id).
type RecordedSpan struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Name       string            `json:"name"`
	StartUnix  int64             `json:"start_unix_ms"`
	DurationMs int64             `json:"duration_ms"`
	StatusCode string            `json:"status_code"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SpanRecorder is a bounded ring-buffer sdktrace.SpanProcessor: it keeps the
// most recent N finished spans in memory for ad-hoc inspection, independent
// of whether an OTLP collector is reachable.
type SpanRecorder struct {
	mu   sync.Mutex
	buf  []RecordedSpan
	next int
	full bool
	cap  int
}

// NewSpanRecorder creates a SpanRecorder holding up to capacity spans.
func NewSpanRecorder(capacity int) *SpanRecorder {
	return &SpanRecorder{buf: make([]RecordedSpan, capacity), cap: capacity}
}

// OnStart implements sdktrace.SpanProcessor.
func (s *SpanRecorder) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd implements sdktrace.SpanProcessor, recording the finished span.
func (s *SpanRecorder) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := make(map[string]string, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	rec := RecordedSpan{
		TraceID:    span.SpanContext().TraceID().String(),
		SpanID:     span.SpanContext().SpanID().String(),
		Name:       span.Name(),
		StartUnix:  span.StartTime().UnixMilli(),
		DurationMs: span.EndTime().Sub(span.StartTime()).Milliseconds(),
		StatusCode: span.Status().Code.String(),
		Attributes: attrs,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = rec
	s.next = (s.next + 1) % s.cap
	if s.next == 0 {
		s.full = true
	}
}

// Shutdown implements sdktrace.SpanProcessor.
func (s *SpanRecorder) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (s *SpanRecorder) ForceFlush(context.Context) error { return nil }

// Recent returns up to limit most-recently-finished spans, newest first.
func (s *SpanRecorder) Recent(limit int) []RecordedSpan {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	count := n
	if s.full {
		count = s.cap
	}
	out := make([]RecordedSpan, 0, min(limit, count))
	for i := 0; i < count && len(out) < limit; i++ {
		idx := (n - 1 - i + s.cap) % s.cap
		out = append(out, s.buf[idx])
	}
	return out
}

// ByTraceID returns every recorded span sharing traceID.
func (s *SpanRecorder) ByTraceID(traceID string) []RecordedSpan {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RecordedSpan
	count := s.next
	if s.full {
		count = s.cap
	}
	for i := 0; i < count; i++ {
		if s.buf[i].TraceID == traceID {
			out = append(out, s.buf[i])
		}
	}
	return out
}

// Stats summarizes the recorder's current occupancy.
func (s *SpanRecorder) Stats() (count, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return s.cap, s.cap
	}
	return s.next, s.cap
}

// Clear empties the recorder.
func (s *SpanRecorder) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	s.full = false
}
