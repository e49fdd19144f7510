package main

import (
	"flag"
	"log"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/config"
	"bitbucket.org/mmdatafocus/possync_backend/models"
	"bitbucket.org/mmdatafocus/possync_backend/workflow"
	"gorm.io/gorm"
)

// Manual variant of the audit-retention sweep, for one-off runs against an
// environment where the in-process job is disabled. Takes the same advisory
// lock as the job so it cannot race a live server instance.
func main() {
	days := flag.Int("days", 30, "retention window in days")
	dryRun := flag.Bool("dry-run", false, "count matching entries without deleting")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()

	olderThan := time.Now().AddDate(0, 0, -*days)

	if *dryRun {
		var count int64
		err := db.Model(&models.SyncAuditLogEntry{}).
			Where("created_at < ? AND (status = ? OR resolution IS NOT NULL)",
				olderThan, models.SyncAuditStatusSynced).
			Count(&count).Error
		if err != nil {
			log.Fatalf("count: %v", err)
		}
		log.Printf("dry run: %d entries older than %s would be pruned", count, olderThan.Format(time.RFC3339))
		return
	}

	result := workflow.RunJobWithAdvisoryLock(db, "possync:audit-retention", func(conn *gorm.DB) error {
		pruned, err := models.PruneSyncAuditLog(conn, olderThan)
		if err != nil {
			return err
		}
		log.Printf("pruned %d entries older than %s", pruned, olderThan.Format(time.RFC3339))
		return nil
	})
	if result.Skipped {
		log.Printf("skipped: %s", result.Reason)
		return
	}
	if result.Err != nil {
		log.Fatalf("prune: %v", result.Err)
	}
}
