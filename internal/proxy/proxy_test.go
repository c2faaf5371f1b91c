package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/balancer"
	"github.com/dctx/routex/internal/health"
	"github.com/dctx/routex/internal/router"
	"github.com/dctx/routex/internal/transform"
)

type fakeChannels struct{ channels []*routex.Channel }

func (f *fakeChannels) EnabledChannels(context.Context) ([]*routex.Channel, error) {
	return f.channels, nil
}

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(ct string) (string, error) { return ct, nil }

type fakeCounters struct{ attempts atomic.Int64 }

func (f *fakeCounters) RecordAttempt(context.Context, string, bool, time.Time) error {
	f.attempts.Add(1)
	return nil
}

type fakeLogger struct{ logs []routex.RequestLog }

func (f *fakeLogger) LogRequest(rec routex.RequestLog) { f.logs = append(f.logs, rec) }

type fakeTee struct{ dispatched int }

func (f *fakeTee) Dispatch(routex.RequestLog, []byte) { f.dispatched++ }

type fakePrices struct{}

func (fakePrices) Price(string) (routex.ModelPrice, bool) { return routex.ModelPrice{}, false }

type emptyRuleStore struct{}

func (emptyRuleStore) ListEnabledRules(context.Context) ([]*routex.RoutingRule, error) {
	return nil, nil
}

func newTestChannel(id, name string, priority int) *routex.Channel {
	return &routex.Channel{
		ID: id, Name: name, Vendor: routex.VendorAnthropic, Priority: priority, Weight: 1,
		Status: routex.ChannelEnabled, APIKeyEnc: "test-key",
	}
}

func newTestEngine(t *testing.T, channels []*routex.Channel, baseURL string) (*Engine, *fakeCounters, *fakeLogger, *fakeTee) {
	t.Helper()
	for _, c := range channels {
		c.BaseURL = baseURL
	}
	counters := &fakeCounters{}
	logger := &fakeLogger{}
	tee := &fakeTee{}
	eng := NewEngine(
		&fakeChannels{channels: channels},
		balancer.New(balancer.StrategyPriority, 1),
		health.NewRegistry(health.DefaultConfig()),
		router.New(emptyRuleStore{}),
		transform.NewRegistry(),
		plainDecrypter{},
		counters,
		logger,
		tee,
		fakePrices{},
		http.DefaultClient,
		nil,
	)
	return eng, counters, logger, tee
}

func doRequest(t *testing.T, eng *Engine, model string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"`+model+`"}`))
	rec := httptest.NewRecorder()
	rc := routex.RequestContext{Model: model, Path: "/v1/messages"}
	err := eng.Do(context.Background(), rec, req, rc, []byte(`{"model":"`+model+`","max_tokens":100}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return rec
}

func TestProxySuccessJSON(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","usage":{"input_tokens":5,"output_tokens":7}}`))
	}))
	defer upstream.Close()

	eng, counters, logger, tee := newTestEngine(t, []*routex.Channel{newTestChannel("c1", "primary", 10)}, upstream.URL)
	rec := doRequest(t, eng, "claude-3")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "msg_1") {
		t.Fatalf("body missing upstream content: %s", rec.Body.String())
	}
	if counters.attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", counters.attempts.Load())
	}
	if len(logger.logs) != 1 || !logger.logs[0].Success {
		t.Fatalf("expected one successful log, got %+v", logger.logs)
	}
	if logger.logs[0].InputTokens != 5 || logger.logs[0].OutputTokens != 7 {
		t.Fatalf("token accounting wrong: %+v", logger.logs[0])
	}
	if tee.dispatched != 1 {
		t.Fatalf("tee dispatched = %d, want 1", tee.dispatched)
	}
}

func TestProxyFailoverOn5xx(t *testing.T) {
	t.Parallel()
	var badHits, goodHits atomic.Int64
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_2","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer good.Close()

	badCh := newTestChannel("bad", "bad-channel", 20)
	badCh.BaseURL = bad.URL
	goodCh := newTestChannel("good", "good-channel", 10)
	goodCh.BaseURL = good.URL

	eng, _, logger, _ := newTestEngine(t, []*routex.Channel{badCh, goodCh}, "")
	rec := doRequest(t, eng, "claude-3")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if badHits.Load() != 1 || goodHits.Load() != 1 {
		t.Fatalf("expected one hit each, got bad=%d good=%d", badHits.Load(), goodHits.Load())
	}
	if len(logger.logs) != 1 {
		t.Fatalf("only the final outcome should be logged, got %d entries", len(logger.logs))
	}
}

func TestProxyNon5xxClientErrorDoesNotFailover(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	eng, _, _, _ := newTestEngine(t, []*routex.Channel{newTestChannel("c1", "primary", 10)}, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	rc := routex.RequestContext{Model: "claude-3", Path: "/v1/messages"}
	err := eng.Do(context.Background(), httptest.NewRecorder(), req, rc, []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for 401 upstream response")
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one attempt for a non-retriable status, got %d", hits.Load())
	}
}

func TestProxyNoChannelAvailable(t *testing.T) {
	t.Parallel()
	eng, _, _, _ := newTestEngine(t, nil, "")
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	rc := routex.RequestContext{Model: "claude-3", Path: "/v1/messages"}
	err := eng.Do(context.Background(), httptest.NewRecorder(), req, rc, []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error with no channels configured")
	}
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	cases := map[int]retryDecision{
		200: decisionSuccess, 201: decisionSuccess,
		429: decisionRetry, 500: decisionRetry, 503: decisionRetry,
		400: decisionFail, 401: decisionFail, 404: decisionFail,
	}
	for status, want := range cases {
		if got := classifyStatus(status); got != want {
			t.Errorf("classifyStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestRetryAfterParsesSeconds(t *testing.T) {
	t.Parallel()
	h := http.Header{"Retry-After": []string{"30"}}
	if d := retryAfter(h); d != 30*time.Second {
		t.Fatalf("retryAfter = %v, want 30s", d)
	}
}

func TestSSEDataParsing(t *testing.T) {
	t.Parallel()
	if _, ok := sseData(""); ok {
		t.Error("blank line should not parse as data")
	}
	if _, ok := sseData(": comment"); ok {
		t.Error("comment line should not parse as data")
	}
	data, ok := sseData(`data: {"type":"ping"}`)
	if !ok || data != `{"type":"ping"}` {
		t.Fatalf("sseData = %q, %v", data, ok)
	}
}
