package sqlite

import (
	"context"
	"testing"
	"time"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races.
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChannelRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	c := &routex.Channel{
		ID:        "chan-1",
		Name:      "primary-anthropic",
		Vendor:    routex.VendorAnthropic,
		BaseURL:   "https://api.anthropic.com",
		Models:    []string{"claude-opus-4"},
		Priority:  10,
		Weight:    1,
		Status:    routex.ChannelEnabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateChannel(ctx, c); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetChannelByName(ctx, "primary-anthropic")
	if err != nil {
		t.Fatal("get by name:", err)
	}
	if got.ID != c.ID || got.Vendor != routex.VendorAnthropic || len(got.Models) != 1 {
		t.Errorf("got %+v", got)
	}

	if err := s.RecordAttempt(ctx, c.ID, true, now.Add(time.Second)); err != nil {
		t.Fatal("record attempt:", err)
	}
	got, _ = s.GetChannel(ctx, c.ID)
	if got.RequestCount != 1 || got.SuccessCount != 1 {
		t.Errorf("expected counters incremented, got %+v", got)
	}

	c.Priority = 20
	if err := s.UpdateChannel(ctx, c); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetChannel(ctx, c.ID)
	if got.Priority != 20 {
		t.Errorf("priority = %d, want 20", got.Priority)
	}

	enabled, err := s.ListEnabledChannels(ctx)
	if err != nil || len(enabled) != 1 {
		t.Fatalf("list enabled: %v, %d", err, len(enabled))
	}

	if err := s.DeleteChannel(ctx, c.ID); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetChannel(ctx, c.ID); err != routex.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRoutingRuleRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	r := &routex.RoutingRule{
		ID:            "rule-1",
		Name:          "premium-rule",
		Condition:     []byte(`{"models":["claude-opus-4"]}`),
		TargetChannel: "premium",
		Priority:      100,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateRule(ctx, r); err != nil {
		t.Fatal("create:", err)
	}

	rules, err := s.ListEnabledRules(ctx)
	if err != nil || len(rules) != 1 {
		t.Fatalf("list enabled: %v, %d", err, len(rules))
	}

	r.Enabled = false
	if err := s.UpdateRule(ctx, r); err != nil {
		t.Fatal("update:", err)
	}
	rules, _ = s.ListEnabledRules(ctx)
	if len(rules) != 0 {
		t.Errorf("expected 0 enabled rules after disable, got %d", len(rules))
	}

	if err := s.DeleteRule(ctx, r.ID); err != nil {
		t.Fatal("delete:", err)
	}
}

func TestTeeDestinationRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	tee := &routex.TeeDestination{
		ID:        "tee-1",
		Name:      "audit-webhook",
		Type:      routex.TeeWebhook,
		Enabled:   true,
		URL:       "https://example.com/hook",
		Method:    "POST",
		Filter:    &routex.TeeFilter{StatusCodes: []int{200}},
		Retries:   3,
		TimeoutMs: 5000,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateTee(ctx, tee); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetTee(ctx, tee.ID)
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Filter == nil || len(got.Filter.StatusCodes) != 1 {
		t.Errorf("expected filter to round-trip, got %+v", got.Filter)
	}

	tee.Enabled = false
	if err := s.UpdateTee(ctx, tee); err != nil {
		t.Fatal("update:", err)
	}
	enabled, _ := s.ListEnabledTees(ctx)
	if len(enabled) != 0 {
		t.Errorf("expected 0 enabled tees after disable, got %d", len(enabled))
	}
}

func TestOAuthSessionUpsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	sess := &routex.OAuthSession{
		ID:        "sess-1",
		ChannelID: "chan-1",
		Provider:  "google",
		Expiry:    now.Add(time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.UpsertOAuthSession(ctx, sess); err != nil {
		t.Fatal("upsert:", err)
	}

	sess.AccessToken = "refreshed-token"
	if err := s.UpsertOAuthSession(ctx, sess); err != nil {
		t.Fatal("upsert (update path):", err)
	}

	got, err := s.GetOAuthSession(ctx, "chan-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.AccessToken != "refreshed-token" {
		t.Errorf("expected updated access token, got %q", got.AccessToken)
	}
}

func TestRequestLogBatchInsertAndAnalytics(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	logs := []routex.RequestLog{
		{ID: "log-1", ChannelID: "chan-1", Model: "claude-opus-4", StatusCode: 200, LatencyMs: 100, Success: true, CostUSD: 0.01, Timestamp: base},
		{ID: "log-2", ChannelID: "chan-1", Model: "claude-opus-4", StatusCode: 500, LatencyMs: 200, Success: false, CostUSD: 0, Timestamp: base.Add(time.Second)},
	}
	if err := s.InsertRequestLogs(ctx, logs); err != nil {
		t.Fatal("insert:", err)
	}

	n, err := s.CountRequestLogs(ctx, storage.RequestLogFilter{ChannelID: "chan-1"})
	if err != nil || n != 2 {
		t.Fatalf("count: %v, %d", err, n)
	}

	analytics, err := s.QueryAnalytics(ctx, base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatal("analytics:", err)
	}
	if analytics.TotalRequests != 2 || analytics.SuccessCount != 1 || analytics.FailureCount != 1 {
		t.Errorf("unexpected analytics: %+v", analytics)
	}
}

func TestModelPriceRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p := &routex.ModelPrice{Model: "claude-opus-4", InputPerMillion: 15, OutputPerMillion: 75}
	if err := s.UpsertModelPrice(ctx, p); err != nil {
		t.Fatal("upsert:", err)
	}

	got, err := s.GetModelPrice(ctx, "claude-opus-4")
	if err != nil || got.OutputPerMillion != 75 {
		t.Fatalf("get: %v, %+v", err, got)
	}

	p.OutputPerMillion = 80
	if err := s.UpsertModelPrice(ctx, p); err != nil {
		t.Fatal("upsert (update path):", err)
	}
	got, _ = s.GetModelPrice(ctx, "claude-opus-4")
	if got.OutputPerMillion != 80 {
		t.Errorf("expected updated price 80, got %v", got.OutputPerMillion)
	}

	if err := s.DeleteModelPrice(ctx, "claude-opus-4"); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetModelPrice(ctx, "claude-opus-4"); err != routex.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rpm := int64(100)
	k := &routex.APIKey{
		ID:        "key-1",
		KeyHash:   routex.HashKey("rtx_test_key"),
		KeyPrefix: "rtx_test_key",
		Role:      "editor",
		RPMLimit:  &rpm,
		CreatedAt: now,
	}
	if err := s.CreateKey(ctx, k); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetKeyByHash(ctx, k.KeyHash)
	if err != nil {
		t.Fatal("get by hash:", err)
	}
	if got.Role != "editor" || got.RPMLimit == nil || *got.RPMLimit != 100 {
		t.Errorf("got %+v", got)
	}

	if err := s.TouchKeyUsed(ctx, k.ID); err != nil {
		t.Fatal("touch:", err)
	}
	got, _ = s.GetKey(ctx, k.ID)
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at to be set after touch")
	}

	k.Blocked = true
	if err := s.UpdateKey(ctx, k); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetKey(ctx, k.ID)
	if !got.Blocked {
		t.Error("expected blocked=true after update")
	}

	n, err := s.CountKeys(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count: %v, %d", err, n)
	}

	if err := s.DeleteKey(ctx, k.ID); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetKey(ctx, k.ID); err != routex.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
