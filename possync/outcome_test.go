package possync

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		wantKind   OutcomeKind
		wantReason string
	}{
		{"created", http.StatusCreated, OutcomeSynced, ""},
		{"ok replay", http.StatusOK, OutcomeSynced, ""},
		{"rate limited", http.StatusTooManyRequests, OutcomeTransient, "rate_limited"},
		{"service unavailable", http.StatusServiceUnavailable, OutcomeTransient, "service_unavailable"},
		{"validation rejected", http.StatusUnprocessableEntity, OutcomeConflict, "http_422"},
		{"business conflict", http.StatusConflict, OutcomeConflict, "http_409"},
		{"unauthorized", http.StatusUnauthorized, OutcomeConflict, "http_401"},
		{"internal error", http.StatusInternalServerError, OutcomeTransient, "http_500"},
		{"bad gateway", http.StatusBadGateway, OutcomeTransient, "http_502"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := ClassifyStatus(tc.statusCode, nil)
			if outcome.Kind != tc.wantKind {
				t.Fatalf("kind = %d, want %d", outcome.Kind, tc.wantKind)
			}
			if outcome.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", outcome.Reason, tc.wantReason)
			}
			if outcome.StatusCode != tc.statusCode {
				t.Fatalf("status code = %d, want %d", outcome.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestClassifyStatusKeepsResponseBody(t *testing.T) {
	body := []byte(`{"id":42}`)
	outcome := ClassifyStatus(http.StatusCreated, body)
	if string(outcome.Response) != string(body) {
		t.Fatalf("response = %s, want %s", outcome.Response, body)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantReason string
	}{
		{"deadline exceeded", context.DeadlineExceeded, "timeout"},
		{"wrapped deadline", errors.New("dial: " + context.DeadlineExceeded.Error()), "connection_error"},
		{"net timeout", &net.DNSError{IsTimeout: true}, "timeout"},
		{"refused", &net.OpError{Op: "dial", Err: os.ErrClosed}, "connection_error"},
		{"plain error", errors.New("connection reset"), "connection_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := ClassifyError(tc.err)
			if outcome.Kind != OutcomeTransient {
				t.Fatalf("kind = %d, want transient", outcome.Kind)
			}
			if outcome.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", outcome.Reason, tc.wantReason)
			}
		})
	}
}
