package possync

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	store := openTestStore(t)

	payload, _ := json.Marshal(map[string]interface{}{"total": "1500.00"})
	createdAt := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	created, err := store.Enqueue(QueuedOperation{
		ID:             "op-1",
		Method:         "POST",
		URL:            "/api/sales",
		Payload:        payload,
		IdempotencyKey: "op-1",
		Status:         StatusPending,
		CreatedAt:      createdAt,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Fatal("first enqueue reported as refresh")
	}

	op, ok, err := store.Get("op-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if op.Method != "POST" || op.URL != "/api/sales" || op.IdempotencyKey != "op-1" {
		t.Fatalf("roundtrip mismatch: %+v", op)
	}
	if string(op.Payload) != string(payload) {
		t.Fatalf("payload = %s, want %s", op.Payload, payload)
	}
	if !op.CreatedAt.Equal(createdAt) {
		t.Fatalf("created_at = %s, want %s", op.CreatedAt, createdAt)
	}
	if op.LastAttemptAt != nil {
		t.Fatalf("last_attempt_at = %v, want nil", op.LastAttemptAt)
	}
}

func TestSQLiteStoreEnqueueIdempotentOnID(t *testing.T) {
	store := openTestStore(t)

	createdAt := time.Now().Add(-time.Hour)
	if _, err := store.Enqueue(QueuedOperation{
		ID: "op-1", Method: "POST", URL: "/api/sales",
		Status: StatusPending, CreatedAt: createdAt,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.IncrementRetries("op-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	created, err := store.Enqueue(QueuedOperation{
		ID: "op-1", Method: "POST", URL: "/api/expenses",
		Status: StatusPending, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if created {
		t.Fatal("re-enqueue of existing id reported as new")
	}

	op, _, _ := store.Get("op-1")
	if op.URL != "/api/expenses" {
		t.Fatalf("payload refresh lost: url = %s", op.URL)
	}
	if op.Retries != 1 {
		t.Fatalf("retries = %d, identity not preserved", op.Retries)
	}
	if op.CreatedAt.Sub(createdAt).Abs() > time.Millisecond {
		t.Fatalf("created_at changed on re-enqueue: %s vs %s", op.CreatedAt, createdAt)
	}
}

func TestSQLiteStoreListOrderAndFiltering(t *testing.T) {
	store := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	seed := []struct {
		id     string
		status OperationStatus
		offset time.Duration
	}{
		{"op-c", StatusPending, 3 * time.Minute},
		{"op-a", StatusPending, 1 * time.Minute},
		{"op-b", StatusConflict, 2 * time.Minute},
		{"op-d", StatusCancelled, 0},
	}
	for _, s := range seed {
		if _, err := store.Enqueue(QueuedOperation{
			ID: s.id, Method: "POST", URL: "/api/sales",
			Status: s.status, CreatedAt: base.Add(s.offset),
		}); err != nil {
			t.Fatalf("enqueue %s: %v", s.id, err)
		}
	}

	ops, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"op-a", "op-b", "op-c"}
	if len(ops) != len(want) {
		t.Fatalf("list returned %d operations, want %d", len(ops), len(want))
	}
	for i := range want {
		if ops[i].ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, ops[i].ID, want[i])
		}
	}
}

func TestSQLiteStoreStatusAndRetries(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Enqueue(QueuedOperation{
		ID: "op-1", Method: "POST", URL: "/api/sales",
		Status: StatusPending, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	attemptAt := time.Now().Truncate(time.Millisecond)
	if err := store.SetStatus("op-1", StatusSyncing, &attemptAt); err != nil {
		t.Fatalf("set status: %v", err)
	}
	op, _, _ := store.Get("op-1")
	if op.Status != StatusSyncing {
		t.Fatalf("status = %s, want syncing", op.Status)
	}
	if op.LastAttemptAt == nil || !op.LastAttemptAt.Equal(attemptAt) {
		t.Fatalf("last_attempt_at = %v, want %s", op.LastAttemptAt, attemptAt)
	}

	for i := 0; i < 3; i++ {
		if err := store.IncrementRetries("op-1"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	op, _, _ = store.Get("op-1")
	if op.Retries != 3 {
		t.Fatalf("retries = %d, want 3", op.Retries)
	}

	if err := store.ResetRetries("op-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	op, _, _ = store.Get("op-1")
	if op.Retries != 0 {
		t.Fatalf("retries = %d after reset, want 0", op.Retries)
	}

	if err := store.Remove("op-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := store.Get("op-1"); ok {
		t.Fatal("operation still present after remove")
	}
}

func TestSQLiteStoreHistoryPrune(t *testing.T) {
	store := openTestStore(t)

	now := time.Now()
	entries := []SyncHistoryEntry{
		{OperationId: "op-1", Event: HistoryQueued, CreatedAt: now.Add(-48 * time.Hour)},
		{OperationId: "op-1", Event: HistoryFailed, Reason: "timeout", CreatedAt: now.Add(-30 * time.Hour)},
		{OperationId: "op-2", Event: HistoryQueued, CreatedAt: now.Add(-time.Hour)},
	}
	for _, e := range entries {
		if err := store.AppendHistory(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.History("op-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("op-1 history length = %d, want 2", len(got))
	}
	if got[1].Reason != "timeout" {
		t.Fatalf("reason = %q, want timeout", got[1].Reason)
	}

	pruned, err := store.PruneHistory(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}

	remaining, _ := store.History("")
	if len(remaining) != 1 || remaining[0].OperationId != "op-2" {
		t.Fatalf("remaining history = %+v", remaining)
	}
}

func TestMemoryStoreEnqueueKeepsIdentity(t *testing.T) {
	store := NewMemoryStore()

	createdAt := time.Now().Add(-time.Minute)
	if _, err := store.Enqueue(QueuedOperation{
		ID: "op-1", Method: "POST", URL: "/api/sales",
		Status: StatusPending, CreatedAt: createdAt, Retries: 0,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.SetStatus("op-1", StatusConflict, nil); err != nil {
		t.Fatalf("set status: %v", err)
	}

	created, err := store.Enqueue(QueuedOperation{
		ID: "op-1", Method: "PUT", URL: "/api/sales",
		Status: StatusPending, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if created {
		t.Fatal("refresh reported as new")
	}

	op, _, _ := store.Get("op-1")
	if op.Method != "PUT" {
		t.Fatalf("method not refreshed: %s", op.Method)
	}
	if op.Status != StatusConflict {
		t.Fatalf("status overwritten on refresh: %s", op.Status)
	}
	if !op.CreatedAt.Equal(createdAt) {
		t.Fatalf("created_at overwritten on refresh")
	}
}
