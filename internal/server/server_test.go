package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/balancer"
	"github.com/dctx/routex/internal/cache"
	"github.com/dctx/routex/internal/health"
	"github.com/dctx/routex/internal/proxy"
	"github.com/dctx/routex/internal/router"
	"github.com/dctx/routex/internal/testutil"
	"github.com/dctx/routex/internal/transform"
)

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(ct string) (string, error) { return ct, nil }

type fakeLogger struct{ logs []routex.RequestLog }

func (f *fakeLogger) LogRequest(rec routex.RequestLog) { f.logs = append(f.logs, rec) }

type fakeTee struct{ dispatched int }

func (f *fakeTee) Dispatch(routex.RequestLog, []byte) { f.dispatched++ }

// newTestHandler wires a minimal but real proxy.Engine over a fake store,
// mirroring how cmd/routex assembles Deps.
func newTestHandler(t *testing.T, store *testutil.FakeStore) http.Handler {
	t.Helper()

	mem, err := cache.NewMemory(1000, time.Minute)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	cacheStore := cache.NewStore(mem, cache.NewController(cache.DefaultClassConfig()))
	channels := NewChannelProvider(cacheStore, store)
	prices := NewPriceTable(store)
	if err := prices.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh prices: %v", err)
	}

	healthReg := health.NewRegistry(health.DefaultConfig())
	lb := balancer.New(balancer.StrategyPriority, 1)
	ruleRouter := router.New(store)
	transformers := transform.NewRegistry()

	eng := proxy.NewEngine(
		channels,
		lb,
		healthReg,
		ruleRouter,
		transformers,
		plainDecrypter{},
		store,
		&fakeLogger{},
		&fakeTee{},
		prices,
		http.DefaultClient,
		nil,
	)

	return New(Deps{
		Auth:      testutil.FakeAuth{},
		Store:     store,
		Engine:    eng,
		Channels:  channels,
		Prices:    prices,
		Balancer:  lb,
		RuleRoute: ruleRouter,
		Health:    healthReg,
		Transform: transformers,
	})
}

func newTestStoreWithChannel(t *testing.T, upstreamURL string) *testutil.FakeStore {
	t.Helper()
	store := testutil.NewFakeStore()
	ch := &routex.Channel{
		ID:      "ch-1",
		Name:    "test-channel",
		Vendor:  routex.VendorAnthropic,
		BaseURL: upstreamURL,
		Weight:  1,
		Status:  routex.ChannelEnabled,
	}
	if err := store.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	return store
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.FakeAuth{}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestReadyz_FailsReadyCheck(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth:       testutil.FakeAuth{},
		ReadyCheck: func(context.Context) error { return context.DeadlineExceeded },
	})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: status=%d, want 503", rec.Code)
	}
}

type fakeRejectAuth struct{}

func (fakeRejectAuth) Authenticate(context.Context, *http.Request) (*routex.Identity, error) {
	return nil, routex.ErrUnauthorized
}

func TestAdminRoute_RequiresAuth(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth:  fakeRejectAuth{},
		Store: testutil.NewFakeStore(),
	})
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminRoute_RequiresPermission(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth:  testutil.FakeAuth{Role: "viewer"},
		Store: testutil.NewFakeStore(),
	})
	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.Header.Set("Authorization", "Bearer rtx_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHotPath_ProxiesToChannel(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	store := newTestStoreWithChannel(t, upstream.URL)
	h := newTestHandler(t, store)

	body := `{"model":"claude-3","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer rtx_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHotPath_NoChannelAvailable(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	h := newTestHandler(t, store)

	body := `{"model":"claude-3","max_tokens":100}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer rtx_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503; body = %s", rec.Code, rec.Body.String())
	}
}
