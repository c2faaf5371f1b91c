package proxy

import (
	"net/http"
	"strconv"
	"time"
)

// retryDecision is the outcome of classifying one attempt's result.
type retryDecision int

const (
	decisionSuccess retryDecision = iota
	decisionRetry
	decisionFail
)

// classifyStatus maps an upstream HTTP status to a retry decision. 5xx and
// 429 are retriable; other 4xx are not (auth failures and bad requests
// should surface to the caller immediately, not burn attempts).
func classifyStatus(status int) retryDecision {
	switch {
	case status >= 200 && status < 300:
		return decisionSuccess
	case status == http.StatusTooManyRequests:
		return decisionRetry
	case status >= 500:
		return decisionRetry
	default:
		return decisionFail
	}
}

// retryAfter parses a Retry-After header (seconds or HTTP-date) into a
// duration, returning 0 if absent or unparsable.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
