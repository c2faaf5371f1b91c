package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dctx/routex/internal/telemetry"
	"github.com/dctx/routex/internal/testutil"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	h := New(Deps{
		Auth:           testutil.FakeAuth{},
		Store:          testutil.NewFakeStore(),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer rtx_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	metricsBody := rec.Body.String()
	if !strings.Contains(metricsBody, "routex_requests_total") {
		t.Error("metrics should contain routex_requests_total")
	}
	if !strings.Contains(metricsBody, "routex_request_duration_seconds") {
		t.Error("metrics should contain routex_request_duration_seconds")
	}
}

func TestMetricsMiddleware_IncrementsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	h := New(Deps{
		Auth:           testutil.FakeAuth{},
		Store:          testutil.NewFakeStore(),
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "routex_requests_total" {
			found = true
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "path" && l.GetValue() == "/healthz" {
						if m.GetCounter().GetValue() < 3 {
							t.Errorf("requests_total for /healthz = %f, want >= 3", m.GetCounter().GetValue())
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("routex_requests_total metric not found")
	}
}
