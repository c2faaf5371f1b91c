package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/balancer"
	"github.com/dctx/routex/internal/health"
	"github.com/dctx/routex/internal/storage"
	"github.com/dctx/routex/internal/telemetry"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// --- Pagination ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listEnvelope struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func listResponse(data any, p pagination) listEnvelope {
	return listEnvelope{Success: true, Data: data, Pagination: p}
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseSinceUntil validates optional since/until RFC3339 query params.
// Writes 400 and returns false on invalid format.
func parseSinceUntil(w http.ResponseWriter, r *http.Request) (since, until time.Time, ok bool) {
	q := r.URL.Query()
	sinceStr, untilStr := q.Get("since"), q.Get("until")
	until = time.Now()
	since = until.Add(-24 * time.Hour)
	if sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid since format, use RFC3339"))
			return time.Time{}, time.Time{}, false
		}
		since = t
	}
	if untilStr != "" {
		t, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid until format, use RFC3339"))
			return time.Time{}, time.Time{}, false
		}
		until = t
	}
	return since, until, true
}

// --- System status ---

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version":  Version,
		"uptime_s": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Balancer != nil {
		status["lb_strategy"] = s.deps.Balancer.Strategy()
	}
	if s.deps.Store != nil {
		channels, _ := s.deps.Store.ListChannels(r.Context())
		rules, _ := s.deps.Store.ListRules(r.Context())
		tees, _ := s.deps.Store.ListTees(r.Context())
		status["channel_count"] = len(channels)
		status["rule_count"] = len(rules)
		status["tee_count"] = len(tees)
	}
	writeJSON(w, http.StatusOK, dataResponse(status))
}

// --- Channels ---

func (s *server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.deps.Store.ListChannels(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if channels == nil {
		channels = []*routex.Channel{}
	}
	writeJSON(w, http.StatusOK, listResponse(channels, pagination{Limit: len(channels), Total: len(channels)}))
}

func (s *server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var c routex.Channel
	if !decodeJSON(w, r, &c) {
		return
	}
	if c.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required"))
		return
	}
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	if c.Status == "" {
		c.Status = routex.ChannelEnabled
	}
	if c.Weight <= 0 {
		c.Weight = 1
	}
	if err := s.deps.Store.CreateChannel(r.Context(), &c); err != nil {
		writeAdminError(w, err)
		return
	}
	s.invalidateChannel(r.Context(), c.ID)
	w.Header().Set("Location", "/api/channels/"+c.Name)
	writeJSON(w, http.StatusCreated, dataResponse(&c))
}

func (s *server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	c, err := s.deps.Store.GetChannelByName(r.Context(), name)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(c))
}

func (s *server) handleUpdateChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	existing, err := s.deps.Store.GetChannelByName(r.Context(), name)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if !decodeJSON(w, r, existing) {
		return
	}
	existing.Name = name
	if err := s.deps.Store.UpdateChannel(r.Context(), existing); err != nil {
		writeAdminError(w, err)
		return
	}
	s.invalidateChannel(r.Context(), existing.ID)
	writeJSON(w, http.StatusOK, dataResponse(existing))
}

func (s *server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	existing, err := s.deps.Store.GetChannelByName(r.Context(), name)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if err := s.deps.Store.DeleteChannel(r.Context(), existing.ID); err != nil {
		writeAdminError(w, err)
		return
	}
	s.invalidateChannel(r.Context(), existing.ID)
	w.WriteHeader(http.StatusNoContent)
}

// invalidateChannel drops the enabled-channel cache entry and forces the
// proxy engine to rebuild that channel's transformer pipeline, so an admin
// write takes effect on the very next request instead of waiting out a TTL.
func (s *server) invalidateChannel(ctx context.Context, id string) {
	if s.deps.Channels != nil {
		s.deps.Channels.invalidate(ctx)
	}
	if s.deps.Engine != nil {
		s.deps.Engine.InvalidatePipeline(id)
		s.deps.Engine.InvalidateCloudAuth(id)
	}
}

// --- Channel health probes ---

// handleTestChannel reports one named channel's health from its in-memory
// Health snapshot: healthy unless its circuit breaker is open (with no Health
// registry, healthy when its status is enabled). It sends no upstream
// request, so credentials and connectivity are not exercised, and it does
// not change Health.
func (s *server) handleTestChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ch, err := s.deps.Store.GetChannelByName(r.Context(), name)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	result := s.probeChannel(r.Context(), ch)
	writeJSON(w, http.StatusOK, dataResponse(result))
}

func (s *server) handleTestAllChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.deps.Store.ListChannels(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	results := make([]channelProbeResult, 0, len(channels))
	for _, ch := range channels {
		results = append(results, s.probeChannel(r.Context(), ch))
	}
	writeJSON(w, http.StatusOK, dataResponse(results))
}

type channelProbeResult struct {
	Channel string `json:"channel"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func (s *server) probeChannel(ctx context.Context, ch *routex.Channel) channelProbeResult {
	if s.deps.Health == nil {
		return channelProbeResult{Channel: ch.Name, Healthy: ch.Status == routex.ChannelEnabled}
	}
	h := s.deps.Health.GetOrCreate(ch.ID)
	snap := h.Snapshot()
	return channelProbeResult{Channel: ch.Name, Healthy: snap.State != health.StateCircuitBreaker}
}

// --- Strategy ---

func (s *server) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Strategy string `json:"strategy"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	switch balancer.Strategy(body.Strategy) {
	case balancer.StrategyPriority, balancer.StrategyRoundRobin, balancer.StrategyWeighted, balancer.StrategyLeastUsed:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown strategy"))
		return
	}
	s.deps.Balancer.SetStrategy(balancer.Strategy(body.Strategy))
	writeJSON(w, http.StatusOK, dataResponse(map[string]string{"strategy": body.Strategy}))
}

// --- Routing rules ---

func (s *server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Store.ListRules(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if rules == nil {
		rules = []*routex.RoutingRule{}
	}
	writeJSON(w, http.StatusOK, listResponse(rules, pagination{Limit: len(rules), Total: len(rules)}))
}

func (s *server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule routex.RoutingRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	if rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required"))
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now()
	rule.CreatedAt, rule.UpdatedAt = now, now
	if err := s.deps.Store.CreateRule(r.Context(), &rule); err != nil {
		writeAdminError(w, err)
		return
	}
	s.deps.RuleRoute.Invalidate()
	w.Header().Set("Location", "/api/routing/rules/"+rule.ID)
	writeJSON(w, http.StatusCreated, dataResponse(&rule))
}

func (s *server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, err := s.deps.Store.GetRule(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(rule))
}

func (s *server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rule routex.RoutingRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	rule.ID = id
	rule.UpdatedAt = time.Now()
	if err := s.deps.Store.UpdateRule(r.Context(), &rule); err != nil {
		writeAdminError(w, err)
		return
	}
	s.deps.RuleRoute.Invalidate()
	writeJSON(w, http.StatusOK, dataResponse(&rule))
}

func (s *server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteRule(r.Context(), id); err != nil {
		writeAdminError(w, err)
		return
	}
	s.deps.RuleRoute.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// --- Transformers ---
//
// Transformers are code-registered pipeline stages (spec §4.7's built-in
// list), not admin-authorable entities: there is no per-instance options
// blob to persist. GET discovers what's available for a channel's
// Transformers list; POST/PUT on an unknown id report the same "not
// supported" shape the proxy engine's pipeline builder would produce for
// a bad id, so admin tooling gets one consistent error path either way.

var knownTransformerIDs = []string{"maxtoken", "sampling", "cleancache", "openai-bridge", "gemini-bridge"}

func (s *server) handleListTransformers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dataResponse(knownTransformerIDs))
}

func (s *server) handleCreateTransformer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if _, err := s.deps.Transform.Build(body.ID, nil); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown transformer id"))
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(map[string]string{"id": body.ID}))
}

func (s *server) handleUpdateTransformer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Transform.Build(id, nil); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse("unknown transformer id"))
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(map[string]string{"id": id}))
}

// --- Tee destinations ---

func (s *server) handleListTee(w http.ResponseWriter, r *http.Request) {
	dests, err := s.deps.Store.ListTees(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if dests == nil {
		dests = []*routex.TeeDestination{}
	}
	writeJSON(w, http.StatusOK, listResponse(dests, pagination{Limit: len(dests), Total: len(dests)}))
}

func (s *server) handleCreateTee(w http.ResponseWriter, r *http.Request) {
	var dest routex.TeeDestination
	if !decodeJSON(w, r, &dest) {
		return
	}
	if dest.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required"))
		return
	}
	if dest.ID == "" {
		dest.ID = uuid.Must(uuid.NewV7()).String()
	}
	dest.CreatedAt = time.Now()
	if err := s.deps.Store.CreateTee(r.Context(), &dest); err != nil {
		writeAdminError(w, err)
		return
	}
	w.Header().Set("Location", "/api/tee/"+dest.ID)
	writeJSON(w, http.StatusCreated, dataResponse(&dest))
}

func (s *server) handleUpdateTee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var dest routex.TeeDestination
	if !decodeJSON(w, r, &dest) {
		return
	}
	dest.ID = id
	if err := s.deps.Store.UpdateTee(r.Context(), &dest); err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(&dest))
}

func (s *server) handleDeleteTee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteTee(r.Context(), id); err != nil {
		writeAdminError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Model prices (supplemental; see DESIGN.md) ---

func (s *server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.deps.Store.ListModelPrices(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if prices == nil {
		prices = []*routex.ModelPrice{}
	}
	writeJSON(w, http.StatusOK, listResponse(prices, pagination{Limit: len(prices), Total: len(prices)}))
}

func (s *server) handleUpsertPrice(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	var p routex.ModelPrice
	if !decodeJSON(w, r, &p) {
		return
	}
	p.Model = model
	if err := s.deps.Store.UpsertModelPrice(r.Context(), &p); err != nil {
		writeAdminError(w, err)
		return
	}
	if s.deps.Prices != nil {
		_ = s.deps.Prices.Refresh(r.Context())
	}
	writeJSON(w, http.StatusOK, dataResponse(&p))
}

func (s *server) handleDeletePrice(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if err := s.deps.Store.DeleteModelPrice(r.Context(), model); err != nil {
		writeAdminError(w, err)
		return
	}
	if s.deps.Prices != nil {
		_ = s.deps.Prices.Refresh(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Analytics & requests ---

func (s *server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	analytics, err := s.deps.Store.QueryAnalytics(r.Context(), since, until)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(analytics))
}

func (s *server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	since, until, ok := parseSinceUntil(w, r)
	if !ok {
		return
	}
	offset, limit := parsePagination(r)
	q := r.URL.Query()
	filter := storage.RequestLogFilter{
		ChannelID: q.Get("channel"),
		Model:     q.Get("model"),
		Since:     since,
		Until:     until,
		Offset:    offset,
		Limit:     limit,
	}
	logs, err := s.deps.Store.QueryRequestLogs(r.Context(), filter)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	total, _ := s.deps.Store.CountRequestLogs(r.Context(), filter)
	if logs == nil {
		logs = []routex.RequestLog{}
	}
	writeJSON(w, http.StatusOK, listResponse(logs, pagination{Offset: offset, Limit: limit, Total: total}))
}

// --- Metrics ---

func (s *server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeJSON(w, http.StatusOK, dataResponse(map[string]any{}))
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(map[string]string{"hint": "scrape /metrics for the full Prometheus exposition"}))
}

func (s *server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	// Prometheus counters/histograms are monotonic by design; resetting them
	// would misrepresent upstream scrapers' rate() computations, so this
	// endpoint only clears the in-process tracing ring buffer and reports
	// that tracing was cleared; metrics are left as they are.
	if s.deps.SpanRecorder != nil {
		s.deps.SpanRecorder.Clear()
	}
	writeJSON(w, http.StatusOK, dataResponse(map[string]string{"tracing": "cleared"}))
}

// --- Tracing ---

func (s *server) handleTracingStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.SpanRecorder == nil {
		writeJSON(w, http.StatusOK, dataResponse(map[string]int{"count": 0, "capacity": 0}))
		return
	}
	count, capacity := s.deps.SpanRecorder.Stats()
	writeJSON(w, http.StatusOK, dataResponse(map[string]int{"count": count, "capacity": capacity}))
}

func (s *server) handleTracingTraces(w http.ResponseWriter, r *http.Request) {
	if s.deps.SpanRecorder == nil {
		writeJSON(w, http.StatusOK, dataResponse([]telemetry.RecordedSpan{}))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, dataResponse(s.deps.SpanRecorder.Recent(limit)))
}

func (s *server) handleTracingTraceByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.SpanRecorder == nil {
		writeJSON(w, http.StatusNotFound, errorResponse("tracing not enabled"))
		return
	}
	spans := s.deps.SpanRecorder.ByTraceID(id)
	if len(spans) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse("trace not found"))
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(spans))
}

func (s *server) handleTracingClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.SpanRecorder != nil {
		s.deps.SpanRecorder.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- API keys ---
//
// Not named by the distilled spec's admin endpoint table (which treats admin
// auth as out of scope), but storage.APIKeyStore is a fully built entity with
// no other way to provision or revoke a key at runtime, so it gets the same
// supplemental-route treatment as /api/prices. Gated on PermAdmin throughout:
// key issuance/revocation is inherently a full-admin action, not a finer-grained
// role.

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	keys, err := s.deps.Store.ListKeys(r.Context(), offset, limit)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	if keys == nil {
		keys = []*routex.APIKey{}
	}
	total, err := s.deps.Store.CountKeys(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(keys, pagination{Offset: offset, Limit: limit, Total: total}))
}

func (s *server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := s.deps.Store.GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse(key))
}

type createKeyRequest struct {
	Role     string `json:"role"`
	RPMLimit *int64 `json:"rpm_limit"`
	TPMLimit *int64 `json:"tpm_limit"`
}

// createKeyResponse carries the raw secret exactly once, at issuance time;
// it is never recoverable afterward since only its hash is persisted.
type createKeyResponse struct {
	*routex.APIKey
	Key string `json:"key"`
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := routex.RolePermissions[req.Role]; !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown role"))
		return
	}
	raw := routex.AdminKeyPrefix + randomState()
	key := &routex.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   routex.HashKey(raw),
		KeyPrefix: raw[:len(routex.AdminKeyPrefix)+8],
		Role:      req.Role,
		RPMLimit:  req.RPMLimit,
		TPMLimit:  req.TPMLimit,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Store.CreateKey(r.Context(), key); err != nil {
		writeAdminError(w, err)
		return
	}
	w.Header().Set("Location", "/api/keys/"+key.ID)
	writeJSON(w, http.StatusCreated, dataResponse(createKeyResponse{APIKey: key, Key: raw}))
}

type updateKeyRequest struct {
	Role     *string `json:"role"`
	RPMLimit *int64  `json:"rpm_limit"`
	TPMLimit *int64  `json:"tpm_limit"`
	Blocked  *bool   `json:"blocked"`
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Store.GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	var req updateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Role != nil {
		if _, ok := routex.RolePermissions[*req.Role]; !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse("unknown role"))
			return
		}
		existing.Role = *req.Role
	}
	if req.RPMLimit != nil {
		existing.RPMLimit = req.RPMLimit
	}
	if req.TPMLimit != nil {
		existing.TPMLimit = req.TPMLimit
	}
	if req.Blocked != nil {
		existing.Blocked = *req.Blocked
	}
	if err := s.deps.Store.UpdateKey(r.Context(), existing); err != nil {
		writeAdminError(w, err)
		return
	}
	if s.deps.KeyInvalidator != nil {
		s.deps.KeyInvalidator.InvalidateByKeyID(existing.ID)
	}
	writeJSON(w, http.StatusOK, dataResponse(existing))
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, err)
		return
	}
	if s.deps.KeyInvalidator != nil {
		s.deps.KeyInvalidator.InvalidateByKeyID(id)
	}
	w.WriteHeader(http.StatusNoContent)
}
