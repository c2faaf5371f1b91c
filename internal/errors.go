package routex

import "errors"

// Sentinel errors for the gateway domain, surface-stable per the error
// handling design: each maps to exactly one HTTP status at the ingress.
var (
	ErrBadRequest            = errors.New("bad request")
	ErrTokenLimitExceeded    = errors.New("token limit exceeded")
	ErrTransformError        = errors.New("transform error")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrSignatureInvalid      = errors.New("signature invalid")
	ErrTimestampOutOfWindow  = errors.New("timestamp out of window")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrRateLimited           = errors.New("rate limited")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrNoChannelAvailable    = errors.New("no channel available")
	ErrRoutedChannelUnavail  = errors.New("routed channel unavailable")
	ErrUpstreamError         = errors.New("upstream error")
	ErrTimeout               = errors.New("timeout")
	ErrInternal              = errors.New("internal error")
	ErrBadCiphertext         = errors.New("bad ciphertext")
	ErrKeyExpired            = errors.New("api key expired")
	ErrKeyBlocked            = errors.New("api key blocked")
)
