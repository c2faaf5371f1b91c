package health

import (
	"context"
	"errors"
	"net"
	"os"
)

// StatusError is implemented by errors carrying an upstream HTTP status.
type StatusError interface {
	HTTPStatus() int
}

// Retriable reports whether err should trigger a retry with a different
// channel: transport errors, 5xx, and 429 (respecting Retry-After) are
// retriable; 4xx other than 408/429, auth failures, and transform errors
// are not.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code == 408 || code == 429 || code >= 500
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	// Unclassified errors (connection refused, DNS failure, etc.) are
	// treated as transport faults and are retriable.
	return true
}

// IsFailure reports whether err should count against the consecutive
// failure streak (everything Retriable, plus non-retriable 5xx-class
// terminal errors). Auth/client errors (4xx other than 408/429) do not
// count as channel-fault failures.
func IsFailure(err error) bool {
	if err == nil {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		if code >= 400 && code < 500 && code != 408 && code != 429 {
			return false
		}
	}
	return true
}
