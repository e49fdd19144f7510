package possync

import (
	"sort"
	"sync"
	"time"
)

// QueueStore is the durable home of pending operations. The store is injected
// into the Coordinator so tests and multiple independent coordinators can use
// their own instances.
//
// Guarantees the Coordinator relies on:
//   - Enqueue is idempotent on ID: a second enqueue of the same id updates
//     method/url/payload (last write wins) but keeps status, retries and
//     created_at, so identity survives re-submission.
//   - List returns only non-terminal operations (pending/syncing/conflict),
//     oldest created_at first; that ordering is the flush order.
//   - Once Enqueue returns nil the operation is never silently lost.
type QueueStore interface {
	// Enqueue persists op. Returns true when a new operation was created,
	// false when an existing id was refreshed.
	Enqueue(op QueuedOperation) (bool, error)
	List() ([]QueuedOperation, error)
	Get(id string) (QueuedOperation, bool, error)
	// SetStatus updates status; attemptAt, when non-nil, also stamps
	// last_attempt_at.
	SetStatus(id string, status OperationStatus, attemptAt *time.Time) error
	IncrementRetries(id string) error
	ResetRetries(id string) error
	Remove(id string) error
	AppendHistory(entry SyncHistoryEntry) error
	History(operationId string) ([]SyncHistoryEntry, error)
	PruneHistory(olderThan time.Time) (int, error)
	Close() error
}

// MemoryStore is the non-durable QueueStore, used by tests and as a fallback
// when no queue path is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ops     map[string]QueuedOperation
	history []SyncHistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ops: map[string]QueuedOperation{}}
}

func (s *MemoryStore) Enqueue(op QueuedOperation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.ops[op.ID]; ok {
		existing.Method = op.Method
		existing.URL = op.URL
		existing.Payload = op.Payload
		s.ops[op.ID] = existing
		return false, nil
	}
	s.ops[op.ID] = op
	return true, nil
}

func (s *MemoryStore) List() ([]QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ops []QueuedOperation
	for _, op := range s.ops {
		switch op.Status {
		case StatusPending, StatusSyncing, StatusConflict:
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].ID < ops[j].ID
	})
	return ops, nil
}

func (s *MemoryStore) Get(id string) (QueuedOperation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	return op, ok, nil
}

func (s *MemoryStore) SetStatus(id string, status OperationStatus, attemptAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil
	}
	op.Status = status
	if attemptAt != nil {
		t := *attemptAt
		op.LastAttemptAt = &t
	}
	s.ops[id] = op
	return nil
}

func (s *MemoryStore) IncrementRetries(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.ops[id]; ok {
		op.Retries++
		s.ops[id] = op
	}
	return nil
}

func (s *MemoryStore) ResetRetries(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.ops[id]; ok {
		op.Retries = 0
		s.ops[id] = op
	}
	return nil
}

func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

func (s *MemoryStore) AppendHistory(entry SyncHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

func (s *MemoryStore) History(operationId string) ([]SyncHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []SyncHistoryEntry
	for _, entry := range s.history {
		if operationId == "" || entry.OperationId == operationId {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *MemoryStore) PruneHistory(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	pruned := 0
	for _, entry := range s.history {
		if entry.CreatedAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, entry)
	}
	s.history = kept
	return pruned, nil
}

func (s *MemoryStore) Close() error { return nil }
