// Package proxy implements the outbound execution engine: channel
// selection, transformer pipeline application, HTTP/SSE forwarding,
// retry/failover, health/counter updates, and request-log emission.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/balancer"
	"github.com/dctx/routex/internal/health"
	"github.com/dctx/routex/internal/router"
	"github.com/dctx/routex/internal/transform"
)

// Defaults per the attempt loop.
const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 60 * time.Second
	maxJSONResponseBody   = 32 << 20
)

// ChannelProvider supplies the eligible-channel set, normally backed by the
// read-through cache (internal/cache) over the store.
type ChannelProvider interface {
	EnabledChannels(ctx context.Context) ([]*routex.Channel, error)
}

// Decrypter decrypts a Channel's stored credential.
type Decrypter interface {
	Decrypt(ct string) (string, error)
}

// CounterStore records the outcome of a proxied attempt against a channel's
// persistent counters.
type CounterStore interface {
	RecordAttempt(ctx context.Context, id string, success bool, at time.Time) error
}

// RequestLogger accepts a finalized request log; implementations are
// expected to buffer and flush asynchronously (§4.2) rather than block here.
type RequestLogger interface {
	LogRequest(rec routex.RequestLog)
}

// TeeTrigger fans a finalized record out to configured external sinks.
type TeeTrigger interface {
	Dispatch(rec routex.RequestLog, responsePreview []byte)
}

// PriceLookup resolves the configured per-million-token price for a model.
type PriceLookup interface {
	Price(model string) (routex.ModelPrice, bool)
}

// Engine wires together the components the attempt loop touches.
type Engine struct {
	Channels     ChannelProvider
	Balancer     *balancer.LoadBalancer
	Health       *health.Registry
	Router       *router.Router
	Transformers *transform.Registry
	Box          Decrypter
	Counters     CounterStore
	Logger       RequestLogger
	Tee          TeeTrigger
	Prices       PriceLookup
	Client       *http.Client
	Tracer       trace.Tracer

	MaxAttempts    int
	AttemptTimeout time.Duration

	estimator *tokenEstimator

	pipelineMu sync.RWMutex
	pipelines  map[string]*transform.Pipeline // channel id -> resolved pipeline

	cloudMu         sync.RWMutex
	cloudTransports map[string]http.RoundTripper // channel id -> ADC-backed transport (ambient-credential google channels only)
}

// NewEngine returns an Engine with the attempt-loop defaults applied. A nil
// Tracer disables span emission.
func NewEngine(channels ChannelProvider, lb *balancer.LoadBalancer, healthReg *health.Registry, r *router.Router, transformers *transform.Registry, box Decrypter, counters CounterStore, logger RequestLogger, tee TeeTrigger, prices PriceLookup, client *http.Client, tracer trace.Tracer) *Engine {
	return &Engine{
		Channels: channels, Balancer: lb, Health: healthReg, Router: r,
		Transformers: transformers, Box: box, Counters: counters, Logger: logger,
		Tee: tee, Prices: prices, Client: client, Tracer: tracer,
		MaxAttempts: DefaultMaxAttempts, AttemptTimeout: DefaultAttemptTimeout,
		estimator: newTokenEstimator(), pipelines: make(map[string]*transform.Pipeline),
		cloudTransports: make(map[string]http.RoundTripper),
	}
}

// InvalidatePipeline forces the next attempt against channelID to rebuild
// its transformer pipeline; called by admin handlers after edits.
func (e *Engine) InvalidatePipeline(channelID string) {
	e.pipelineMu.Lock()
	delete(e.pipelines, channelID)
	e.pipelineMu.Unlock()
}

// InvalidateCloudAuth drops channelID's cached ADC-backed transport, if any;
// called by admin handlers after a channel credential edit so a flip
// between a stored API key and ambient-credential auth takes effect on the
// next attempt instead of reusing a stale transport.
func (e *Engine) InvalidateCloudAuth(channelID string) {
	e.cloudMu.Lock()
	delete(e.cloudTransports, channelID)
	e.cloudMu.Unlock()
}

// authTransportFor returns the http.RoundTripper that injects ch's outbound
// credential, building and caching an ADC-backed transport for
// ambient-credential google channels (constructing one does disk/metadata
// I/O) and a fresh static-key transport otherwise.
func (e *Engine) authTransportFor(ctx context.Context, ch *routex.Channel, apiKey string) (http.RoundTripper, error) {
	if ch.Vendor != routex.VendorGoogle || apiKey != "" {
		return authTransport(ctx, ch, apiKey, e.Client.Transport)
	}
	e.cloudMu.RLock()
	rt, ok := e.cloudTransports[ch.ID]
	e.cloudMu.RUnlock()
	if ok {
		return rt, nil
	}
	rt, err := authTransport(ctx, ch, apiKey, e.Client.Transport)
	if err != nil {
		return nil, err
	}
	e.cloudMu.Lock()
	e.cloudTransports[ch.ID] = rt
	e.cloudMu.Unlock()
	return rt, nil
}

func (e *Engine) pipelineFor(ch *routex.Channel) (*transform.Pipeline, error) {
	e.pipelineMu.RLock()
	p, ok := e.pipelines[ch.ID]
	e.pipelineMu.RUnlock()
	if ok {
		return p, nil
	}

	stages := make([]transform.Transformer, 0, len(ch.Transformers))
	for _, id := range ch.Transformers {
		t, err := e.Transformers.Build(id, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", routex.ErrTransformError, err)
		}
		stages = append(stages, t)
	}
	p = transform.NewPipeline(stages)

	e.pipelineMu.Lock()
	e.pipelines[ch.ID] = p
	e.pipelineMu.Unlock()
	return p, nil
}

// Do executes the full pipeline for one inbound request: route, attempt
// loop with failover, stream-or-buffer the upstream response to w, and
// emit a RequestLog + tee fan-out. It writes a success response directly
// to w; a non-nil error means nothing has been written yet and the caller
// should map it to an HTTP status.
func (e *Engine) Do(ctx context.Context, w http.ResponseWriter, r *http.Request, rc routex.RequestContext, body []byte) error {
	var span trace.Span
	if e.Tracer != nil {
		ctx, span = e.Tracer.Start(ctx, "proxy.do", trace.WithAttributes(attribute.String("model", rc.Model)))
		defer span.End()
	}

	decision, err := e.Router.Evaluate(ctx, rc)
	if err != nil {
		return err
	}

	started := time.Now()
	tried := make(map[string]struct{})

	var lastErr error
	var lastRec routex.RequestLog
	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		ch, err := e.selectChannel(ctx, decision, rc.Model, tried)
		if err != nil {
			if lastErr != nil {
				e.finalize(ctx, lastRec, nil)
				return lastErr
			}
			return err
		}
		tried[ch.ID] = struct{}{}

		rec, preview, writeErr := e.attempt(ctx, w, r, ch, rc, body, decision, started)
		if writeErr == errAttemptWroteResponse {
			e.finalize(ctx, rec, preview)
			return nil
		}
		lastErr = writeErr
		lastRec = rec
		if writeErr != nil && !isRetriable(writeErr) {
			e.finalize(ctx, rec, preview)
			return writeErr
		}
	}
	if lastErr == nil {
		lastErr = routex.ErrNoChannelAvailable
	} else {
		e.finalize(ctx, lastRec, nil)
	}
	return lastErr
}

// errAttemptWroteResponse signals that attempt() already streamed or wrote
// a full success response to the client.
var errAttemptWroteResponse = errors.New("proxy: response already written")

// retriableErr wraps an error to mark it eligible for failover to the next
// channel.
type retriableErr struct{ err error }

func (r retriableErr) Error() string { return r.err.Error() }
func (r retriableErr) Unwrap() error { return r.err }

func isRetriable(err error) bool {
	var r retriableErr
	return errors.As(err, &r)
}

// selectChannel resolves the candidate set for this attempt and picks one,
// honoring a router-named target channel over load-balancer selection.
func (e *Engine) selectChannel(ctx context.Context, decision router.Decision, model string, tried map[string]struct{}) (*routex.Channel, error) {
	channels, err := e.Channels.EnabledChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", routex.ErrInternal, err)
	}

	if decision.TargetChannel != "" {
		for _, c := range channels {
			if c.Name != decision.TargetChannel {
				continue
			}
			if _, seen := tried[c.ID]; seen {
				return nil, routex.ErrRoutedChannelUnavail
			}
			if !c.Eligible(model) || !e.Health.GetOrCreate(c.ID).Selectable() {
				return nil, routex.ErrRoutedChannelUnavail
			}
			return c, nil
		}
		return nil, routex.ErrRoutedChannelUnavail
	}

	var candidates []*routex.Channel
	for _, c := range channels {
		if _, seen := tried[c.ID]; seen {
			continue
		}
		if !c.Eligible(model) {
			continue
		}
		if !e.Health.GetOrCreate(c.ID).Selectable() {
			continue
		}
		candidates = append(candidates, c)
	}
	return e.Balancer.Select(candidates)
}

// attempt performs one full upstream call against ch: transform the
// request, issue it, and either stream or buffer the response to w. The
// returned RequestLog is always populated enough to finalize, even on
// failure. A sentinel errAttemptWroteResponse return means w already
// received a complete response and the caller must not write again.
func (e *Engine) attempt(ctx context.Context, w http.ResponseWriter, r *http.Request, ch *routex.Channel, rc routex.RequestContext, body []byte, decision router.Decision, started time.Time) (routex.RequestLog, []byte, error) {
	rec := routex.RequestLog{
		ID: uuid.NewString(), ChannelID: ch.ID, Model: rc.Model,
		Method: r.Method, Path: rc.Path, Timestamp: started,
		TraceID: routex.RequestIDFromContext(ctx),
	}

	var attemptSpan trace.Span
	attemptCtx := ctx
	if e.Tracer != nil {
		attemptCtx, attemptSpan = e.Tracer.Start(ctx, "proxy.attempt", trace.WithAttributes(
			attribute.String("channel", ch.Name), attribute.String("model", rc.Model),
		))
		defer attemptSpan.End()
	}

	pipeline, err := e.pipelineFor(ch)
	if err != nil {
		return e.fail(ctx, rec, ch, http.StatusBadGateway, err, false)
	}

	model := rc.Model
	if decision.TargetModel != "" {
		model = decision.TargetModel
	}
	tc := transform.Context{Model: model, Vendor: string(ch.Vendor), ChannelID: ch.ID, RequestID: rec.TraceID}
	if decision.TargetModel != "" {
		body = overrideModel(body, decision.TargetModel)
	}
	reqBody, err := pipeline.ApplyRequest(attemptCtx, body, tc)
	if err != nil {
		return e.fail(ctx, rec, ch, http.StatusBadRequest, fmt.Errorf("%w: %w", routex.ErrTransformError, err), false)
	}

	apiKey, err := e.Box.Decrypt(ch.APIKeyEnc)
	if err != nil {
		return e.fail(ctx, rec, ch, http.StatusBadGateway, fmt.Errorf("%w: decrypt channel key: %w", routex.ErrUpstreamError, err), false)
	}

	attemptTimeoutCtx, cancel := context.WithTimeout(attemptCtx, e.AttemptTimeout)
	defer cancel()

	upstream, err := buildUpstreamRequest(attemptTimeoutCtx, ch, r.Method, rc.Path, r.Header, reqBody)
	if err != nil {
		return e.fail(ctx, rec, ch, http.StatusBadGateway, fmt.Errorf("%w: %w", routex.ErrUpstreamError, err), false)
	}

	rt, err := e.authTransportFor(attemptCtx, ch, apiKey)
	if err != nil {
		return e.fail(ctx, rec, ch, http.StatusBadGateway, fmt.Errorf("%w: build auth transport: %w", routex.ErrUpstreamError, err), false)
	}

	resp, err := rt.RoundTrip(upstream)
	if err != nil {
		if ctx.Err() != nil {
			rec.StatusCode = 499
			rec.LatencyMs = int(time.Since(started).Milliseconds())
			return rec, nil, fmt.Errorf("%w: client disconnected", routex.ErrTimeout)
		}
		e.Health.GetOrCreate(ch.ID).RecordFailure()
		return e.fail(ctx, rec, ch, 0, fmt.Errorf("%w: %w", routex.ErrUpstreamError, err), true)
	}
	defer resp.Body.Close()

	switch classifyStatus(resp.StatusCode) {
	case decisionRetry:
		if resp.StatusCode == http.StatusTooManyRequests {
			e.Health.GetOrCreate(ch.ID).RecordRateLimited(retryAfter(resp.Header))
		} else {
			e.Health.GetOrCreate(ch.ID).RecordFailure()
		}
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return e.fail(ctx, rec, ch, resp.StatusCode, fmt.Errorf("%w: status %d: %s", routex.ErrUpstreamError, resp.StatusCode, limited), true)
	case decisionFail:
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return e.fail(ctx, rec, ch, resp.StatusCode, fmt.Errorf("%w: status %d: %s", routex.ErrUpstreamError, resp.StatusCode, limited), false)
	}

	rec.StatusCode = resp.StatusCode
	rec.Success = true

	contentType := resp.Header.Get("Content-Type")
	copyResponseHeaders(w, resp.Header)

	var respPreview []byte
	if strings.Contains(contentType, "text/event-stream") {
		w.WriteHeader(resp.StatusCode)
		sr := pipeSSE(w, resp)
		rec.InputTokens, rec.OutputTokens, rec.CachedTokens = sr.InputTokens, sr.OutputTokens, sr.CachedTokens
		if rec.OutputTokens == 0 && sr.Text != "" {
			rec.OutputTokens = e.estimator.Estimate(model, sr.Text)
		}
	} else {
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBody))
		if err != nil {
			return e.fail(ctx, rec, ch, http.StatusBadGateway, fmt.Errorf("%w: read response: %w", routex.ErrUpstreamError, err), false)
		}
		transformed, err := pipeline.ApplyResponse(attemptCtx, respBody, tc)
		if err != nil {
			transformed = respBody // deliver the untransformed body rather than fail a 2xx upstream call
			slog.WarnContext(ctx, "proxy_response_transform_error", slog.String("channel", ch.Name), slog.String("error", err.Error()))
		}
		rec.InputTokens, rec.OutputTokens, rec.CachedTokens = extractUsage(transformed)
		w.WriteHeader(resp.StatusCode)
		w.Write(transformed)
		respPreview = transformed
	}

	rec.LatencyMs = int(time.Since(started).Milliseconds())
	if p, ok := e.Prices.Price(rc.Model); ok {
		rec.CostUSD = float64(rec.InputTokens)/1e6*p.InputPerMillion + float64(rec.OutputTokens)/1e6*p.OutputPerMillion
	}

	e.Health.GetOrCreate(ch.ID).RecordSuccess()
	if err := e.Counters.RecordAttempt(ctx, ch.ID, true, started); err != nil {
		slog.WarnContext(ctx, "proxy_record_attempt_error", slog.String("channel", ch.Name), slog.String("error", err.Error()))
	}
	return rec, respPreview, errAttemptWroteResponse
}

func (e *Engine) fail(ctx context.Context, rec routex.RequestLog, ch *routex.Channel, status int, err error, retriable bool) (routex.RequestLog, []byte, error) {
	rec.StatusCode = status
	rec.Success = false
	rec.Error = err.Error()
	rec.LatencyMs = int(time.Since(rec.Timestamp).Milliseconds())
	if recErr := e.Counters.RecordAttempt(ctx, ch.ID, false, rec.Timestamp); recErr != nil {
		slog.WarnContext(ctx, "proxy_record_attempt_error", slog.String("channel", ch.Name), slog.String("error", recErr.Error()))
	}
	if retriable {
		return rec, nil, retriableErr{err}
	}
	return rec, nil, err
}

func (e *Engine) finalize(ctx context.Context, rec routex.RequestLog, preview []byte) {
	if e.Logger != nil {
		e.Logger.LogRequest(rec)
	}
	if e.Tee != nil {
		e.Tee.Dispatch(rec, preview)
	}
}

func copyResponseHeaders(w http.ResponseWriter, header http.Header) {
	for key, vals := range header {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		for _, v := range vals {
			w.Header().Add(key, v)
		}
	}
}

func newBodyReader(body []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(body))
}

// overrideModel rewrites the top-level "model" field of a canonical request
// body, used when a routing rule names a target model. Falls back to the
// original body on malformed JSON rather than failing the request outright.
func overrideModel(body []byte, model string) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body
	}
	encoded, err := json.Marshal(model)
	if err != nil {
		return body
	}
	fields["model"] = encoded
	out, err := json.Marshal(fields)
	if err != nil {
		return body
	}
	return out
}
