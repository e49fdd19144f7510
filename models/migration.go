package models

import (
	"log"

	"bitbucket.org/mmdatafocus/possync_backend/config"
)

// MigrateTable runs AutoMigrate for every table this service owns.
func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&IdempotencyRecord{},
		&SyncAuditLogEntry{},
		&StockLevel{},
		&Sale{},
		&SaleDetail{},
		&InventoryBatch{},
		&Expense{},
		&Payment{},
	)
	if err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
