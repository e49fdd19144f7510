package models

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/config"
	"bitbucket.org/mmdatafocus/possync_backend/utils"
)

func TestValidateSyncEvent(t *testing.T) {
	valid := SyncAuditEvent{
		OperationId: "op-1",
		Status:      SyncAuditStatusSynced,
		Method:      "POST",
		Endpoint:    "/api/sales",
	}
	if err := ValidateSyncEvent(valid); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(e *SyncAuditEvent)
	}{
		{"missing operation id", func(e *SyncAuditEvent) { e.OperationId = "" }},
		{"unknown status", func(e *SyncAuditEvent) { e.Status = "exploded" }},
		{"empty status", func(e *SyncAuditEvent) { e.Status = "" }},
		{"negative retry count", func(e *SyncAuditEvent) { e.RetryCount = -1 }},
		{"oversized method", func(e *SyncAuditEvent) { e.Method = "NOTAREALMETHOD" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := valid
			tc.mutate(&event)
			if err := ValidateSyncEvent(event); err == nil {
				t.Fatal("invalid event accepted")
			}
		})
	}
}

func TestValidateSyncEventAllStatuses(t *testing.T) {
	for _, status := range []SyncAuditStatus{
		SyncAuditStatusSynced,
		SyncAuditStatusFailed,
		SyncAuditStatusConflict,
		SyncAuditStatusNeedsReview,
	} {
		event := SyncAuditEvent{OperationId: "op-1", Status: status}
		if err := ValidateSyncEvent(event); err != nil {
			t.Fatalf("status %s rejected: %v", status, err)
		}
	}
}

func TestCapSyncEventBatch(t *testing.T) {
	makeBatch := func(n int) []SyncAuditEvent {
		events := make([]SyncAuditEvent, n)
		for i := range events {
			events[i] = SyncAuditEvent{
				OperationId: fmt.Sprintf("op-%d", i),
				Status:      SyncAuditStatusSynced,
			}
		}
		return events
	}

	small := makeBatch(3)
	if got := CapSyncEventBatch(small); len(got) != 3 {
		t.Fatalf("small batch truncated to %d", len(got))
	}

	exact := makeBatch(MaxSyncEventBatch)
	if got := CapSyncEventBatch(exact); len(got) != MaxSyncEventBatch {
		t.Fatalf("exact batch truncated to %d", len(got))
	}

	oversized := makeBatch(MaxSyncEventBatch + 57)
	got := CapSyncEventBatch(oversized)
	if len(got) != MaxSyncEventBatch {
		t.Fatalf("oversized batch capped to %d, want %d", len(got), MaxSyncEventBatch)
	}
	// the first events survive; later ones are dropped, not reordered
	if got[0].OperationId != "op-0" || got[len(got)-1].OperationId != fmt.Sprintf("op-%d", MaxSyncEventBatch-1) {
		t.Fatalf("cap changed batch contents: first=%s last=%s", got[0].OperationId, got[len(got)-1].OperationId)
	}

	if got := CapSyncEventBatch(nil); len(got) != 0 {
		t.Fatalf("nil batch produced %d events", len(got))
	}
}

func TestClampSyncAuditLimit(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 50},
		{-5, 50},
		{1, 1},
		{50, 50},
		{200, 200},
		{201, 200},
		{100000, 200},
	}
	for _, tc := range cases {
		if got := ClampSyncAuditLimit(tc.in); got != tc.want {
			t.Errorf("ClampSyncAuditLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestResolveSyncAuditEntryRejectsBadResolution(t *testing.T) {
	if _, err := ResolveSyncAuditEntry(context.Background(), "op-1", "shredded", ""); err == nil {
		t.Fatal("unknown resolution accepted")
	}
}

// Ingestion and resolution guards need the unique index and the guarded
// UPDATE behind them, so the roundtrips run only against a configured MySQL.
func TestRecordSyncEventsIngestion(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("set INTEGRATION_TESTS=true to run database tests")
	}

	config.ConnectDatabaseWithRetry()
	MigrateTable()

	prefix := fmt.Sprintf("it-%d", time.Now().UnixNano())
	ctx := utils.SetUserNameInContext(context.Background(), "integration-user")
	ctx = utils.SetLocationIdInContext(ctx, prefix)

	// oversized batch: only the first MaxSyncEventBatch land
	events := make([]SyncAuditEvent, MaxSyncEventBatch+10)
	for i := range events {
		events[i] = SyncAuditEvent{
			OperationId: fmt.Sprintf("%s-%d", prefix, i),
			Status:      SyncAuditStatusSynced,
			Method:      "POST",
			Endpoint:    "/api/sales",
		}
	}
	inserted, err := RecordSyncEvents(ctx, events)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if inserted != MaxSyncEventBatch {
		t.Fatalf("inserted = %d, want %d", inserted, MaxSyncEventBatch)
	}

	// re-reporting the same operations is absorbed, not an error
	inserted, err = RecordSyncEvents(ctx, events[:5])
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("replayed batch inserted %d entries, want 0", inserted)
	}

	// a malformed event is skipped without failing its neighbors
	mixed := []SyncAuditEvent{
		{OperationId: prefix + "-bad", Status: "exploded"},
		{OperationId: prefix + "-good", Status: SyncAuditStatusFailed, Reason: "timeout"},
	}
	inserted, err = RecordSyncEvents(ctx, mixed)
	if err != nil {
		t.Fatalf("mixed batch: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("mixed batch inserted %d, want 1", inserted)
	}
}

func TestResolveSyncAuditEntryGuards(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("set INTEGRATION_TESTS=true to run database tests")
	}

	config.ConnectDatabaseWithRetry()
	MigrateTable()

	prefix := fmt.Sprintf("it-%d", time.Now().UnixNano())
	ctx := utils.SetUserNameInContext(context.Background(), "integration-admin")

	seed := []SyncAuditEvent{
		{OperationId: prefix + "-conflict", Status: SyncAuditStatusConflict, Reason: "http_409"},
		{OperationId: prefix + "-synced", Status: SyncAuditStatusSynced},
	}
	if _, err := RecordSyncEvents(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entry, err := ResolveSyncAuditEntry(ctx, prefix+"-conflict", SyncAuditResolved, "reconciled by hand")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry.Resolution == nil || *entry.Resolution != SyncAuditResolved {
		t.Fatalf("resolution = %v", entry.Resolution)
	}
	if entry.ResolvedBy == nil || *entry.ResolvedBy != "integration-admin" {
		t.Fatalf("resolved_by = %v", entry.ResolvedBy)
	}
	if entry.ResolvedAt == nil {
		t.Fatal("resolved_at not stamped")
	}

	// resolution is one-shot
	if _, err := ResolveSyncAuditEntry(ctx, prefix+"-conflict", SyncAuditIgnored, "second try"); err != utils.ErrorRecordNotFound {
		t.Fatalf("second resolve err = %v, want record not found", err)
	}

	// synced entries are not eligible
	if _, err := ResolveSyncAuditEntry(ctx, prefix+"-synced", SyncAuditResolved, ""); err != utils.ErrorRecordNotFound {
		t.Fatalf("resolve of synced entry err = %v, want record not found", err)
	}

	// unknown operation id
	if _, err := ResolveSyncAuditEntry(ctx, prefix+"-missing", SyncAuditResolved, ""); err != utils.ErrorRecordNotFound {
		t.Fatalf("resolve of unknown entry err = %v, want record not found", err)
	}
}

func TestRecordTimestamp(t *testing.T) {
	now := time.Now()

	// live write: no queued metadata
	got := RecordTimestamp(context.Background())
	if got.Before(now.Add(-time.Second)) || got.After(now.Add(time.Second)) {
		t.Fatalf("live timestamp = %s, want about now", got)
	}

	// queued write with a plausible original time is backdated
	origin := now.Add(-2 * time.Hour)
	ctx := utils.SetQueuedRequestInContext(context.Background(), true)
	ctx = utils.SetQueuedCreatedAtInContext(ctx, origin)
	if got := RecordTimestamp(ctx); !got.Equal(origin) {
		t.Fatalf("queued timestamp = %s, want %s", got, origin)
	}

	// a future client clock is not trusted
	ctx = utils.SetQueuedRequestInContext(context.Background(), true)
	ctx = utils.SetQueuedCreatedAtInContext(ctx, now.Add(time.Hour))
	got = RecordTimestamp(ctx)
	if got.After(now.Add(time.Second)) {
		t.Fatalf("future client timestamp accepted: %s", got)
	}

	// queued flag without a timestamp falls back to now
	ctx = utils.SetQueuedRequestInContext(context.Background(), true)
	got = RecordTimestamp(ctx)
	if got.Before(now.Add(-time.Second)) {
		t.Fatalf("timestamp = %s, want about now", got)
	}
}
