package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrStorageUnavailable indicates the persistence layer cannot be opened or
// written. It is the only failure propagated to callers: without durable
// storage the retry and offline guarantees cannot be honored.
var ErrStorageUnavailable = errors.New("analysis storage unavailable")

// ErrNotFound indicates the requested item does not exist.
var ErrNotFound = errors.New("not found")

// ErrTransient marks gateway failures worth retrying (network error, timeout,
// 5xx). Matched via errors.Is.
var ErrTransient = errors.New("transient gateway failure")

// ErrStructural marks a 2xx gateway response whose body fails validation.
// Never retried against the same call; routed straight to fallback.
var ErrStructural = errors.New("structural response failure")

// GatewayHTTPError carries a non-2xx status from the analysis gateway.
type GatewayHTTPError struct {
	StatusCode int
	Message    string
}

func (e *GatewayHTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway http %d: %s", e.StatusCode, e.Message)
}

// Is maps retryable statuses onto ErrTransient and everything else onto
// ErrStructural, so callers classify with errors.Is alone.
func (e *GatewayHTTPError) Is(target error) bool {
	retryable := e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
	if target == ErrTransient {
		return retryable
	}
	if target == ErrStructural {
		return !retryable
	}
	return false
}

// StructuralError describes why a gateway response body was rejected.
type StructuralError struct {
	Reason string
}

func (e *StructuralError) Error() string {
	return "structural response failure: " + e.Reason
}

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

// IsTransient reports whether err should be retried per the backoff schedule.
// Timeouts and network-level failures count; cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
