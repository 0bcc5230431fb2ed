package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// DispatchError classifies a failed dispatch. The engine never retries a rule
// regardless of classification; Transient only feeds logs and metric labels so
// operators can tell outages from misconfiguration.
type DispatchError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "dispatch error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a dispatch failure looks like a passing outage
// rather than a permanent rejection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var dispatchErr *DispatchError
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
