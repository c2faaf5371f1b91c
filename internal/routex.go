// Package routex defines the domain types shared across the gateway.
// This package has no project imports -- it is the dependency root.
package routex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"
)

// --- Channel ---

// ChannelStatus is the admin-visible health status of a Channel.
type ChannelStatus string

const (
	ChannelEnabled        ChannelStatus = "enabled"
	ChannelDisabled       ChannelStatus = "disabled"
	ChannelRateLimited    ChannelStatus = "rate_limited"
	ChannelCircuitBreaker ChannelStatus = "circuit_breaker"
)

// Vendor identifies the upstream dialect a Channel speaks.
type Vendor string

const (
	VendorAnthropic Vendor = "anthropic"
	VendorOpenAI    Vendor = "openai"
	VendorGoogle    Vendor = "google"
	VendorAzure     Vendor = "azure"
	VendorZhipu     Vendor = "zhipu"
	VendorCustom    Vendor = "custom"
)

// Channel is a configured outbound endpoint+credential toward one AI vendor.
type Channel struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"` // unique
	Vendor       Vendor        `json:"vendor"`
	BaseURL      string        `json:"base_url,omitempty"`
	APIKeyEnc    string        `json:"-"` // ciphertext: iv:authTag:ct
	RefreshToken string        `json:"-"`
	Models       []string      `json:"models,omitempty"` // empty = all models
	Priority     int           `json:"priority"`         // higher first
	Weight       int           `json:"weight"`           // >= 1
	Status       ChannelStatus `json:"status"`
	Transformers []string      `json:"transformers,omitempty"` // transformer ids, in pipeline order

	RequestCount        int64 `json:"request_count"`
	SuccessCount        int64 `json:"success_count"`
	FailureCount        int64 `json:"failure_count"`
	ConsecutiveFailures int   `json:"consecutive_failures"`

	LastUsedAt          *time.Time `json:"last_used_at,omitempty"`
	LastFailureTime     *time.Time `json:"last_failure_time,omitempty"`
	CircuitBreakerUntil *time.Time `json:"circuit_breaker_until,omitempty"`
	RateLimitedUntil    *time.Time `json:"rate_limited_until,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Eligible reports whether the channel may currently be selected: it must be
// enabled (or half_open, modeled as enabled with an expired cooldown) and,
// if models is non-empty, must support the requested model.
func (c *Channel) Eligible(model string) bool {
	switch c.Status {
	case ChannelEnabled:
	case ChannelCircuitBreaker:
		if c.CircuitBreakerUntil == nil || !time.Now().After(*c.CircuitBreakerUntil) {
			return false
		}
	case ChannelRateLimited:
		if c.RateLimitedUntil == nil || !time.Now().After(*c.RateLimitedUntil) {
			return false
		}
	default:
		return false
	}
	if len(c.Models) == 0 || model == "" {
		return true
	}
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// --- RoutingRule ---

// RoutingRule is a priority-ordered predicate that overrides channel/model
// selection. Condition holds the structured predicate payload.
type RoutingRule struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"` // identifies the match kind
	Condition     json.RawMessage `json:"condition"`
	TargetChannel string          `json:"target_channel"` // "*" sentinel = defer to LB
	TargetModel   string          `json:"target_model,omitempty"`
	Priority      int             `json:"priority"`
	Enabled       bool            `json:"enabled"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RuleCondition is the decoded predicate shape evaluated against RequestContext.
type RuleCondition struct {
	Models      []string `json:"models,omitempty"`
	PathPrefix  string   `json:"path_prefix,omitempty"`
	UserIDs     []string `json:"user_ids,omitempty"`
	HeaderKey   string   `json:"header_key,omitempty"`
	HeaderValue string   `json:"header_value,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// RequestContext is evaluated against RoutingRule conditions.
type RequestContext struct {
	Model   string
	Path    string
	Headers http.Header
	UserID  string
	Tags    []string
}

// --- TeeDestination ---

// TeeType identifies the kind of external sink a TeeDestination delivers to.
type TeeType string

const (
	TeeHTTP    TeeType = "http"
	TeeWebhook TeeType = "webhook"
	TeeFile    TeeType = "file"
	TeeCustom  TeeType = "custom"
)

// TeeFilter restricts which finalized records a destination receives.
type TeeFilter struct {
	Models      []string `json:"models,omitempty"`
	StatusCodes []int    `json:"status_codes,omitempty"`
}

// TeeDestination is a best-effort fan-out sink for finalized RequestLogs.
type TeeDestination struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      TeeType           `json:"type"`
	Enabled   bool              `json:"enabled"`
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	FilePath  string            `json:"file_path,omitempty"`
	HandlerID string            `json:"handler_id,omitempty"`
	Filter    *TeeFilter        `json:"filter,omitempty"`
	Retries   int               `json:"retries"`
	TimeoutMs int               `json:"timeout_ms"`
	CreatedAt time.Time         `json:"created_at"`
}

// --- RequestLog ---

// RequestLog is an append-only record of one completed request.
type RequestLog struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	Model        string    `json:"model"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	StatusCode   int       `json:"status_code"`
	LatencyMs    int       `json:"latency_ms"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CachedTokens int       `json:"cached_tokens"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	TraceID      string    `json:"trace_id,omitempty"`
}

// --- OAuthSession ---

// OAuthSession is a bound OAuth credential for a provider, optionally tied
// to a Channel. A session with Expiry <= now is expired; the hot path
// refuses to use an expired session and does not refresh it synchronously.
type OAuthSession struct {
	ID           string            `json:"id"`
	ChannelID    string            `json:"channel_id,omitempty"`
	Provider     string            `json:"provider"`
	AccessToken  string            `json:"-"`
	RefreshToken string            `json:"-"`
	Expiry       time.Time         `json:"expiry"`
	Scopes       []string          `json:"scopes,omitempty"`
	UserInfo     map[string]string `json:"user_info,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Expired reports whether the session's absolute expiry has passed.
func (s *OAuthSession) Expired() bool { return !s.Expiry.After(time.Now()) }

// --- Model pricing (spec §9 design note: configurable, not hard-coded) ---

// ModelPrice is the USD cost per million input and output tokens for a
// model, used by analytics.
type ModelPrice struct {
	Model            string  `yaml:"model" json:"model"`
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

// --- Identity & RBAC (admin surface auth; spec treats admin as an
// out-of-scope config surface, so this fills the silence) ---

// APIKeyPrefix prefixes all admin-issued API keys. Distinct from
// AdminKeyPrefix, which names the same value for callers that only care
// about the literal string; this is the constant the auth package imports.
const APIKeyPrefix = AdminKeyPrefix

// APIKey is an admin-issued credential for the /api and /v1 surfaces. Unlike
// the teacher's org/team/user model, Routex has no multi-tenant hierarchy:
// a key grants a Role directly, and per-key RPM/TPM overrides tune the
// identity-scoped rate limiter. Spend budgets live on Channel, not on keys.
type APIKey struct {
	ID        string     `json:"id"`
	KeyHash   string      `json:"-"`
	KeyPrefix string      `json:"key_prefix"`
	Role      string      `json:"role"`
	RPMLimit  *int64     `json:"rpm_limit,omitempty"`
	TPMLimit  *int64     `json:"tpm_limit,omitempty"`
	Blocked   bool        `json:"blocked"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Identity is the authenticated caller context attached to request context.
type Identity struct {
	Subject    string     `json:"subject"`
	KeyID      string     `json:"key_id"`
	Role       string     `json:"role"`
	Perms      Permission `json:"-"`
	AuthMethod string     `json:"auth_method"`
	RPMLimit   int64      `json:"-"` // effective per-key RPM override (0 = use ingress preset only)
	TPMLimit   int64      `json:"-"` // effective per-key TPM override (0 = unlimited)
}

// Permission is a bitmask representing authorization capabilities.
type Permission uint32

const (
	PermUseModels       Permission = 1 << iota // call hot-path endpoints
	PermViewRequests                           // GET /api/requests, /api/analytics
	PermManageChannels                         // channel CRUD + strategy
	PermManageRouting                          // routing rule CRUD
	PermManageTransform                        // transformer CRUD
	PermManageTee                              // tee destination CRUD
	PermManageOAuth                            // oauth session admin
	PermAdmin                                  // full access, includes metrics reset
)

// Can reports whether the identity has the given permission.
func (id *Identity) Can(p Permission) bool { return id.Perms&p == p }

// RolePermissions maps role names to their permission bitmasks.
var RolePermissions = map[string]Permission{
	"admin":  PermUseModels | PermViewRequests | PermManageChannels | PermManageRouting | PermManageTransform | PermManageTee | PermManageOAuth | PermAdmin,
	"editor": PermUseModels | PermViewRequests | PermManageChannels | PermManageRouting | PermManageTransform | PermManageTee,
	"viewer": PermViewRequests,
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, avoiding a new context.WithValue allocation.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// AdminKeyPrefix prefixes all admin-surface API keys.
const AdminKeyPrefix = "rtx_"

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
