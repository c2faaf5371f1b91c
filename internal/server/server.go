// Package server implements the HTTP transport layer for the Routex gateway.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"go.opentelemetry.io/otel/trace"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/balancer"
	"github.com/dctx/routex/internal/health"
	"github.com/dctx/routex/internal/proxy"
	"github.com/dctx/routex/internal/ratelimit"
	"github.com/dctx/routex/internal/router"
	"github.com/dctx/routex/internal/storage"
	"github.com/dctx/routex/internal/tee"
	"github.com/dctx/routex/internal/telemetry"
	"github.com/dctx/routex/internal/tokencount"
	"github.com/dctx/routex/internal/transform"
)

// Version is the gateway's reported build version, surfaced on GET /api.
const Version = "0.1.0"

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// KeyInvalidator drops a cached Identity after an admin key write, so a
// blocked/updated key takes effect on the next request rather than at the
// end of its cache TTL.
type KeyInvalidator interface {
	InvalidateByKeyID(keyID string)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth routex.Authenticator

	Store storage.Store // nil = no admin CRUD (for tests)

	Engine    *proxy.Engine // nil = hot-path routes not mounted (for admin-only tests)
	Channels  *channelProvider
	Prices    *priceTable
	Balancer  *balancer.LoadBalancer
	RuleRoute *router.Router
	Health    *health.Registry
	Transform *transform.Registry
	Tee       *tee.Dispatcher

	OAuthProviders map[string]*oauth2.Config

	KeyInvalidator  KeyInvalidator
	Windows         *ratelimit.WindowRegistry // nil = no fixed-window rate limiting
	IdentityLimiter *ratelimit.Registry       // nil = no per-identity RPM/TPM limiting
	TokenCounter    *tokencount.Counter       // nil = no pre-flight TPM estimation
	SignatureSecret string                    // empty = signature verification disabled

	Metrics        *telemetry.Metrics   // nil = no Prometheus metrics
	MetricsHandler http.Handler         // nil = no /metrics endpoint
	Tracer         trace.Tracer         // nil = no distributed tracing
	SpanRecorder   *telemetry.SpanRecorder // nil = /api/tracing/* returns empty
	ReadyCheck     ReadyChecker         // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, startedAt: time.Now()}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Hot path: dialect-specific ingress, all funneled through the same
	// proxy engine (spec §6).
	if deps.Engine != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(s.rateLimitPreset("proxy"))
			r.Use(s.captureBody)
			r.Use(s.rateLimitIdentity)
			r.Use(s.verifySignature)
			r.Post("/v1/messages", s.handleMessages)
			r.Post("/v1/chat/completions", s.handleChatCompletions)
			r.Post("/v1/models/{modelAction}", s.handleGeminiGenerate)
		})
	}

	if deps.Store != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(s.rateLimitPreset("standard"))
			r.Use(s.authenticate)

			r.Get("/", s.handleStatus)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermManageChannels))
				r.Get("/channels", s.handleListChannels)
				r.Post("/channels", s.handleCreateChannel)
				r.Get("/channels/{name}", s.handleGetChannel)
				r.Put("/channels/{name}", s.handleUpdateChannel)
				r.Delete("/channels/{name}", s.handleDeleteChannel)
				r.Post("/channels/{name}/test", s.handleTestChannel)
				r.Post("/channels/test/all", s.handleTestAllChannels)
				r.Put("/strategy", s.handleSetStrategy)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermManageRouting))
				r.Get("/routing/rules", s.handleListRules)
				r.Post("/routing/rules", s.handleCreateRule)
				r.Get("/routing/rules/{id}", s.handleGetRule)
				r.Put("/routing/rules/{id}", s.handleUpdateRule)
				r.Delete("/routing/rules/{id}", s.handleDeleteRule)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermManageTransform))
				r.Get("/transformers", s.handleListTransformers)
				r.Post("/transformers", s.handleCreateTransformer)
				r.Put("/transformers/{id}", s.handleUpdateTransformer)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermManageTee))
				r.Get("/tee", s.handleListTee)
				r.Post("/tee", s.handleCreateTee)
				r.Put("/tee/{id}", s.handleUpdateTee)
				r.Delete("/tee/{id}", s.handleDeleteTee)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermManageChannels))
				r.Get("/prices", s.handleListPrices)
				r.Put("/prices/{model}", s.handleUpsertPrice)
				r.Delete("/prices/{model}", s.handleDeletePrice)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermViewRequests))
				r.Get("/analytics", s.handleAnalytics)
				r.Get("/requests", s.handleListRequests)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermAdmin))
				r.Get("/metrics", s.handleMetricsSnapshot)
				r.Post("/metrics/reset", s.handleMetricsReset)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermAdmin))
				r.Get("/keys", s.handleListKeys)
				r.Post("/keys", s.handleCreateKey)
				r.Get("/keys/{id}", s.handleGetKey)
				r.Put("/keys/{id}", s.handleUpdateKey)
				r.Delete("/keys/{id}", s.handleDeleteKey)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermViewRequests))
				r.Get("/tracing/stats", s.handleTracingStats)
				r.Get("/tracing/traces", s.handleTracingTraces)
				r.Get("/tracing/traces/{id}", s.handleTracingTraceByID)
			})
			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermAdmin))
				r.Post("/tracing/clear", s.handleTracingClear)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(routex.PermManageOAuth))
				r.Get("/oauth/providers", s.handleListOAuthProviders)
				r.Get("/oauth/{provider}/authorize", s.handleOAuthAuthorize)
				r.Get("/oauth/callback/{provider}", s.handleOAuthCallback)
				r.Get("/oauth/sessions/{id}", s.handleGetOAuthSession)
				r.Delete("/oauth/sessions/{id}", s.handleDeleteOAuthSession)
			})
		})
	}

	return r
}

type server struct {
	deps      Deps
	startedAt time.Time
}
