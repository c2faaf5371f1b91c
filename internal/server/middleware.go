package server

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	routex "github.com/dctx/routex/internal"
	"github.com/dctx/routex/internal/crypto"
	"github.com/dctx/routex/internal/ratelimit"
	"github.com/dctx/routex/internal/tokencount"
)

// Pre-allocated header key strings in canonical MIME form.
const (
	hdrRateLimitRequests = "X-Ratelimit-Limit-Requests"
	hdrRemainingRequests = "X-Ratelimit-Remaining-Requests"
	hdrRateLimitTokens   = "X-Ratelimit-Limit-Tokens"
	hdrRemainingTokens   = "X-Ratelimit-Remaining-Tokens"
	hdrRetryAfter        = "Retry-After"
	maxRequestIDLen      = 128
)

// Pre-allocated header value slices for security headers.
// Direct map assignment avoids the []string{v} alloc that Header.Set creates.
var (
	nosniffVal = []string{"nosniff"}
	denyVal    = []string{"DENY"}
)

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
// Reset fields on Get, nil ResponseWriter on Put to avoid retaining references.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{status: http.StatusOK} },
}

// securityHeaders sets defense-in-depth response headers on every request.
func (s *server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h["X-Content-Type-Options"] = nosniffVal
		h["X-Frame-Options"] = denyVal
		next.ServeHTTP(w, r)
	})
}

// recovery catches panics and returns 500, making the middleware chain's
// second link (after securityHeaders) the gateway's last line of defense
// per spec §4.10.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-Id"

// requestID adds a UUID v7 request ID to the context and response header.
// Client-provided IDs are validated: max 128 chars, [a-zA-Z0-9._-] only.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && isValidToken(vals[0], maxRequestIDLen) {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := routex.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isValidToken checks that s is non-empty, at most maxLen chars, and
// contains only [a-zA-Z0-9._-].
func isValidToken(s string, maxLen int) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", routex.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// authenticate validates admin-surface credentials and injects Identity.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			status := errorStatus(err)
			writeJSON(w, status, errorResponse(err.Error()))
			return
		}
		ctx := routex.ContextWithIdentity(r.Context(), identity)
		if ctx == r.Context() {
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter so SSE streaming works
// through middleware.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController find the underlying writer's interfaces.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// rateLimitPreset applies a named fixed-window preset (§4.10) keyed by
// API-key prefix when present, else forwarded/remote client IP.
func (s *server) rateLimitPreset(preset string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.deps.Windows == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := rateLimitKey(r)
			result := s.deps.Windows.Allow(preset, key)
			setRPMHeaders(w, result)
			if !result.Allowed {
				if s.deps.Metrics != nil {
					s.deps.Metrics.RateLimitRejects.WithLabelValues(preset).Inc()
				}
				writeRateLimitError(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey yields the API key prefix (first 12 chars of a bearer/x-api-key
// credential) when present, else the request's remote IP.
func rateLimitKey(r *http.Request) string {
	if raw := extractAPIKey(r); raw != "" {
		if len(raw) > 12 {
			raw = raw[:12]
		}
		return "key:" + raw
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if parts := strings.Split(fwd, ","); len(parts) > 0 {
			host = strings.TrimSpace(parts[0])
		}
	}
	return "ip:" + host
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	return ""
}

// rateLimitIdentity additionally enforces per-admin-identity RPM/TPM
// overrides (only meaningful once authenticate has run) via the
// lazy-refill token-bucket Registry, layered on top of rateLimitPreset's
// fixed window.
func (s *server) rateLimitIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := routex.IdentityFromContext(r.Context())
		if identity == nil || s.deps.IdentityLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		if identity.RPMLimit == 0 && identity.TPMLimit == 0 {
			next.ServeHTTP(w, r)
			return
		}
		limiter := s.deps.IdentityLimiter.GetOrCreate(identity.KeyID, ratelimit.Limits{RPM: identity.RPMLimit, TPM: identity.TPMLimit})
		result := limiter.AllowRPM()
		setRPMHeaders(w, result)
		if !result.Allowed {
			writeRateLimitError(w, result)
			return
		}
		if identity.TPMLimit > 0 && s.deps.TokenCounter != nil {
			if body, ok := bodyFromContext(r.Context()); ok {
				estimated := s.deps.TokenCounter.EstimateBody(body)
				tpmResult := limiter.ConsumeTPM(estimated)
				setTPMHeaders(w, tpmResult)
				if !tpmResult.Allowed {
					writeRateLimitError(w, tpmResult)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func setRPMHeaders(w http.ResponseWriter, r ratelimit.Result) {
	if r.Limit == 0 {
		return
	}
	h := w.Header()
	h[hdrRateLimitRequests] = []string{strconv.FormatInt(r.Limit, 10)}
	h[hdrRemainingRequests] = []string{strconv.FormatInt(r.Remaining, 10)}
}

func setTPMHeaders(w http.ResponseWriter, r ratelimit.Result) {
	if r.Limit == 0 {
		return
	}
	h := w.Header()
	h[hdrRateLimitTokens] = []string{strconv.FormatInt(r.Limit, 10)}
	h[hdrRemainingTokens] = []string{strconv.FormatInt(r.Remaining, 10)}
}

func writeRateLimitError(w http.ResponseWriter, r ratelimit.Result) {
	if r.RetryAfterSeconds > 0 {
		w.Header()[hdrRetryAfter] = []string{strconv.Itoa(int(r.RetryAfterSeconds) + 1)}
	}
	writeJSON(w, http.StatusTooManyRequests, errorResponse("rate limit exceeded"))
}

// maxCapturedBody bounds how much of the request body the signature
// verifier and handlers are allowed to read (separate from, and smaller
// than, the hot-path's own per-vendor body cap).
const maxCapturedBody = 8 << 20

// captureBody reads r.Body fully into memory and replaces it with a fresh
// rewindable reader, so both the signature verifier and the terminal
// handler can each read the full body from the start. Resolves spec §9's
// open question: the body must be buffered once at middleware entry.
func (s *server) captureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxCapturedBody)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("request body too large or unreadable"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := contextWithBody(r.Context(), body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifySignature enforces HMAC-signed requests when the deployment has a
// signing secret configured. Reads x-signature/x-timestamp per §4.1/§4.10;
// must run after captureBody so the buffered body is available for the
// string-to-sign, and leaves r.Body rewound for the next handler.
func (s *server) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.SignatureSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		sig := r.Header.Get("x-signature")
		ts := r.Header.Get("x-timestamp")
		if sig == "" || ts == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse("missing signature"))
			return
		}
		if !crypto.VerifyTimestamp(ts, time.Now(), crypto.DefaultTimestampWindow) {
			writeJSON(w, http.StatusUnauthorized, errorResponse("timestamp out of window"))
			return
		}
		body, _ := bodyFromContext(r.Context())
		msg := crypto.SignString(r.Method, r.URL.Path, ts, string(body), nil, nil)
		if !crypto.VerifySignature(s.deps.SignatureSecret, msg, sig) {
			writeJSON(w, http.StatusUnauthorized, errorResponse("signature invalid"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tracingMiddleware creates a span for each HTTP request.
func tracingMiddleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.Path),
					attribute.String("http.request_id", routex.RequestIDFromContext(r.Context())),
				),
			)
			defer span.End()

			sw := statusWriterPool.Get().(*statusWriter)
			sw.ResponseWriter = w
			sw.status = http.StatusOK
			sw.wroteHeader = false

			next.ServeHTTP(sw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", sw.status))
			sw.ResponseWriter = nil
			statusWriterPool.Put(sw)
		})
	}
}

// requirePerm returns middleware that checks the caller's identity for the given permission.
func (s *server) requirePerm(perm routex.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := routex.IdentityFromContext(r.Context())
			if identity == nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
				return
			}
			if !identity.Can(perm) {
				writeJSON(w, http.StatusForbidden, errorResponse("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
