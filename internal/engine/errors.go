package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrEmptyResponse is returned when a backend answers without any content.
var ErrEmptyResponse = errors.New("engine: empty response")

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Backend, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Backend, e.Code, e.Body)
}

// IsTransient reports whether a failed call is worth retrying: timeouts,
// connection failures, rate limiting, server errors and empty replies.
// Caller cancellation and client errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
