package possync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type OutcomeKind int

const (
	// OutcomeSynced: the server applied (or had already applied) the write.
	OutcomeSynced OutcomeKind = iota
	// OutcomeTransient: worth retrying automatically on the next flush.
	OutcomeTransient
	// OutcomeConflict: deterministic rejection; retrying the same payload
	// would fail the same way. Requires explicit retry or cancellation.
	OutcomeConflict
)

// OperationOutcome is the classified result of one delivery attempt.
type OperationOutcome struct {
	Kind       OutcomeKind
	Reason     string
	StatusCode int
	Response   []byte
}

func syncedOutcome(statusCode int, body []byte) OperationOutcome {
	return OperationOutcome{Kind: OutcomeSynced, StatusCode: statusCode, Response: body}
}

func transientOutcome(reason string, statusCode int) OperationOutcome {
	return OperationOutcome{Kind: OutcomeTransient, Reason: reason, StatusCode: statusCode}
}

func conflictOutcome(reason string, statusCode int) OperationOutcome {
	return OperationOutcome{Kind: OutcomeConflict, Reason: reason, StatusCode: statusCode}
}

// ClassifyStatus maps an HTTP response status to an outcome:
// 2xx synced; 503 transient; 429 transient but recorded under its own reason
// so operators can tell rate limiting from outages; every other 4xx is a
// deterministic conflict; remaining 5xx are treated as transient.
func ClassifyStatus(statusCode int, body []byte) OperationOutcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return syncedOutcome(statusCode, body)
	case statusCode == http.StatusTooManyRequests:
		return transientOutcome("rate_limited", statusCode)
	case statusCode == http.StatusServiceUnavailable:
		return transientOutcome("service_unavailable", statusCode)
	case statusCode >= 400 && statusCode < 500:
		return conflictOutcome(fmt.Sprintf("http_%d", statusCode), statusCode)
	default:
		return transientOutcome(fmt.Sprintf("http_%d", statusCode), statusCode)
	}
}

// ClassifyError maps a connection-level failure. Everything that never reached
// the server, or timed out on the way, is transient by definition.
func ClassifyError(err error) OperationOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return transientOutcome("timeout", 0)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientOutcome("timeout", 0)
	}
	return transientOutcome("connection_error", 0)
}
