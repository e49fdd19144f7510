package possync

import (
	"encoding/json"
	"time"
)

type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusSyncing   OperationStatus = "syncing"
	StatusConflict  OperationStatus = "conflict"
	StatusSynced    OperationStatus = "synced"
	StatusCancelled OperationStatus = "cancelled"
)

// QueuedOperation is one pending client mutation. The ID is stable across
// retries and doubles as the idempotency key unless one is set explicitly,
// which is what makes server-side deduplication work.
type QueuedOperation struct {
	ID             string          `json:"id"`
	Method         string          `json:"method"`
	URL            string          `json:"url"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         OperationStatus `json:"status"`
	Retries        int             `json:"retries"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at"`
}

type HistoryEvent string

const (
	HistoryQueued    HistoryEvent = "queued"
	HistorySynced    HistoryEvent = "synced"
	HistoryFailed    HistoryEvent = "failed"
	HistoryConflict  HistoryEvent = "conflict"
	HistoryCancelled HistoryEvent = "cancelled"
)

// SyncHistoryEntry is an append-only local diagnostic record of one state
// transition. Never mutated; pruned by retention policy.
type SyncHistoryEntry struct {
	OperationId string       `json:"operation_id"`
	Event       HistoryEvent `json:"event"`
	Reason      string       `json:"reason,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// FlushResult aggregates one flush run. Offline and Skipped runs mutate no
// queue state at all.
type FlushResult struct {
	Synced    int  `json:"synced"`
	Failed    int  `json:"failed"`
	Conflicts int  `json:"conflicts"`
	Offline   bool `json:"offline"`
	Skipped   bool `json:"skipped"`
}

// ReportedOutcome is one terminal outcome posted to the server's sync audit
// ingestion endpoint. Field names line up with the server-side event shape.
type ReportedOutcome struct {
	OperationId string    `json:"operation_id"`
	Status      string    `json:"status"`
	Method      string    `json:"method"`
	Endpoint    string    `json:"endpoint"`
	Reason      string    `json:"reason,omitempty"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
}
