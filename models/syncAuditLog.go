package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/config"
	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"github.com/go-playground/validator/v10"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type SyncAuditStatus string

const (
	SyncAuditStatusSynced      SyncAuditStatus = "synced"
	SyncAuditStatusFailed      SyncAuditStatus = "failed"
	SyncAuditStatusConflict    SyncAuditStatus = "conflict"
	SyncAuditStatusNeedsReview SyncAuditStatus = "needs_review"
)

type SyncAuditResolution string

const (
	SyncAuditResolved SyncAuditResolution = "resolved"
	SyncAuditIgnored  SyncAuditResolution = "ignored"
)

const (
	// MaxSyncEventBatch caps one ingestion call; larger batches are truncated
	// server-side rather than rejected.
	MaxSyncEventBatch = 200

	maxSyncAuditListLimit     = 200
	defaultSyncAuditListLimit = 50
)

// SyncAuditLogEntry is the server-side terminal record of one flushed client
// operation. Rows are never deleted; failed/conflict/needs_review entries can
// be closed out once via the resolution workflow.
type SyncAuditLogEntry struct {
	ID             int                 `gorm:"primary_key" json:"id"`
	OperationId    string              `gorm:"size:128;not null;index:uniq_sync_audit_op,unique" json:"operation_id"`
	Actor          string              `gorm:"size:100" json:"actor"`
	LocationId     string              `gorm:"size:64;index" json:"location_id"`
	Method         string              `gorm:"size:10" json:"method"`
	Endpoint       string              `gorm:"size:255" json:"endpoint"`
	Status         SyncAuditStatus     `gorm:"size:20;not null;index" json:"status"`
	Reason         string              `gorm:"type:text" json:"reason"`
	RetryCount     int                 `json:"retry_count"`
	Metadata       []byte              `gorm:"type:json" json:"metadata"`
	CreatedAt      time.Time            `json:"created_at"`
	Resolution     *SyncAuditResolution `gorm:"size:20" json:"resolution"`
	ResolutionNote string               `gorm:"type:text" json:"resolution_note"`
	ResolvedBy     *string              `gorm:"size:100" json:"resolved_by"`
	ResolvedAt     *time.Time           `json:"resolved_at"`
}

// SyncAuditEvent is one client-reported outcome inside an ingestion batch.
// Validated individually: a malformed event is skipped, not fatal to the batch.
type SyncAuditEvent struct {
	OperationId string          `json:"operation_id" validate:"required,max=128"`
	Status      SyncAuditStatus `json:"status" validate:"required,oneof=synced failed conflict needs_review"`
	Method      string          `json:"method" validate:"max=10"`
	Endpoint    string          `json:"endpoint" validate:"max=255"`
	Reason      string          `json:"reason"`
	RetryCount  int             `json:"retry_count" validate:"gte=0"`
	CreatedAt   *time.Time      `json:"created_at"`
	Metadata    []byte          `json:"metadata"`
}

type SyncAuditFilter struct {
	LocationId string
	Status     string
	Limit      int
}

var syncEventValidate = validator.New()

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// ValidateSyncEvent reports whether a single event is acceptable for ingestion.
func ValidateSyncEvent(event SyncAuditEvent) error {
	return syncEventValidate.Struct(event)
}

// CapSyncEventBatch truncates an oversized ingestion batch to
// MaxSyncEventBatch events. Truncation, not rejection: a client with a large
// backlog still lands its first events and drains over successive flushes.
func CapSyncEventBatch(events []SyncAuditEvent) []SyncAuditEvent {
	if len(events) > MaxSyncEventBatch {
		return events[:MaxSyncEventBatch]
	}
	return events
}

// RecordSyncEvents ingests a batch of terminal outcomes reported by a client.
// Events beyond MaxSyncEventBatch are dropped; malformed events and replays of
// an already-recorded operation id are skipped individually. Returns the
// number of entries actually inserted.
func RecordSyncEvents(ctx context.Context, events []SyncAuditEvent) (int, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	events = CapSyncEventBatch(events)

	actor, _ := utils.GetUserNameFromContext(ctx)
	locationId, _ := utils.GetLocationIdFromContext(ctx)

	inserted := 0
	for _, event := range events {
		if err := ValidateSyncEvent(event); err != nil {
			config.LogError(logger, "syncAuditLog.go", "RecordSyncEvents", "validate event", event.OperationId, err)
			continue
		}

		createdAt := time.Now()
		if event.CreatedAt != nil && !event.CreatedAt.IsZero() && !event.CreatedAt.After(createdAt) {
			createdAt = *event.CreatedAt
		}

		entry := SyncAuditLogEntry{
			OperationId: event.OperationId,
			Actor:       actor,
			LocationId:  locationId,
			Method:      event.Method,
			Endpoint:    event.Endpoint,
			Status:      event.Status,
			Reason:      event.Reason,
			RetryCount:  event.RetryCount,
			Metadata:    event.Metadata,
			CreatedAt:   createdAt,
		}
		if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
			if isDuplicateKeyErr(err) {
				// The client re-reported an operation we already have.
				continue
			}
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// ListSyncAuditLog returns entries newest first, optionally filtered by
// location and/or status. The limit is clamped to [1, 200], default 50.
func ListSyncAuditLog(ctx context.Context, filter SyncAuditFilter) ([]SyncAuditLogEntry, error) {
	db := config.GetDB()

	query := db.WithContext(ctx).Model(&SyncAuditLogEntry{})
	if filter.LocationId != "" {
		query = query.Where("location_id = ?", filter.LocationId)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var entries []SyncAuditLogEntry
	err := query.Order("created_at DESC, id DESC").
		Limit(ClampSyncAuditLimit(filter.Limit)).
		Find(&entries).Error
	return entries, err
}

func ClampSyncAuditLimit(limit int) int {
	if limit <= 0 {
		return defaultSyncAuditListLimit
	}
	if limit > maxSyncAuditListLimit {
		return maxSyncAuditListLimit
	}
	return limit
}

// ResolveSyncAuditEntry closes out an unresolved entry. Only entries whose
// status is failed, conflict or needs_review and which have not been resolved
// before are eligible; anything else reports record not found. Resolution is
// not reversible through this operation.
func ResolveSyncAuditEntry(ctx context.Context, operationId string, resolution SyncAuditResolution, note string) (*SyncAuditLogEntry, error) {
	db := config.GetDB()

	if resolution != SyncAuditResolved && resolution != SyncAuditIgnored {
		return nil, errors.New("resolution must be resolved or ignored")
	}

	resolvedBy, _ := utils.GetUserNameFromContext(ctx)
	now := time.Now()

	// Guarded single UPDATE: the status check and the write are one statement,
	// so two administrators racing on the same entry cannot both win.
	res := db.WithContext(ctx).Model(&SyncAuditLogEntry{}).
		Where("operation_id = ? AND resolution IS NULL AND status IN ?",
			operationId,
			[]SyncAuditStatus{SyncAuditStatusFailed, SyncAuditStatusConflict, SyncAuditStatusNeedsReview}).
		Updates(map[string]interface{}{
			"resolution":      resolution,
			"resolution_note": note,
			"resolved_by":     resolvedBy,
			"resolved_at":     now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}

	var entry SyncAuditLogEntry
	if err := db.WithContext(ctx).Where("operation_id = ?", operationId).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// PruneSyncAuditLog deletes synced entries and resolved/ignored entries older
// than the retention window. Unresolved failures are kept indefinitely.
func PruneSyncAuditLog(tx *gorm.DB, olderThan time.Time) (int64, error) {
	res := tx.Where("created_at < ? AND (status = ? OR resolution IS NOT NULL)",
		olderThan, SyncAuditStatusSynced).
		Delete(&SyncAuditLogEntry{})
	return res.RowsAffected, res.Error
}
