package possync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Transport delivers one queued operation to the server. Implementations must
// attach the idempotency key and queued-request metadata so the server can
// deduplicate replays and backdate records.
type Transport interface {
	Send(ctx context.Context, op QueuedOperation, timeout time.Duration) OperationOutcome
}

// ConnectivityProbe answers "is the network worth trying right now". An
// offline answer makes the flush return immediately without touching queue
// state.
type ConnectivityProbe interface {
	Online(ctx context.Context) bool
}

// AuditReporter posts terminal outcomes to the server's sync audit log.
// Reporting is best-effort: a failed report never affects queue state.
type AuditReporter interface {
	Report(ctx context.Context, events []ReportedOutcome) error
}

// ServerClient talks to the sync backend. It implements Transport,
// ConnectivityProbe and AuditReporter.
type ServerClient struct {
	baseURL    string
	token      string
	locationId string
	http       *http.Client
}

func NewServerClient(baseURL, token, locationId string) *ServerClient {
	return &ServerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		locationId: locationId,
		// Per-attempt deadlines come from the coordinator via context, so the
		// client itself carries no fixed timeout.
		http: &http.Client{},
	}
}

func (c *ServerClient) Send(ctx context.Context, op QueuedOperation, timeout time.Duration) OperationOutcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(op.Payload) > 0 {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(op.Method), c.baseURL+op.URL, body)
	if err != nil {
		return conflictOutcome("invalid_request", 0)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Idempotency-Key", op.IdempotencyKey)
	req.Header.Set("X-Queued-Request", "true")
	req.Header.Set("X-Queued-Created-At", op.CreatedAt.UTC().Format(time.RFC3339))
	req.Header.Set("X-Retry-Count", strconv.Itoa(op.Retries))
	if c.locationId != "" {
		req.Header.Set("X-Location-Id", c.locationId)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ClassifyError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return ClassifyStatus(resp.StatusCode, respBody)
}

func (c *ServerClient) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

func (c *ServerClient) Report(ctx context.Context, events []ReportedOutcome) error {
	payload, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync/events", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.locationId != "" {
		req.Header.Set("X-Location-Id", c.locationId)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sync audit ingestion returned %d", resp.StatusCode)
	}
	return nil
}
