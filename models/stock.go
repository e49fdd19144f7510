package models

import (
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockLevel is the on-hand quantity per (location, sku). It is only ever
// mutated through applyStockDelta inside a caller-owned transaction.
type StockLevel struct {
	ID             int             `gorm:"primary_key" json:"id"`
	LocationId     string          `gorm:"size:64;not null;index:uniq_stock_level,unique" json:"location_id"`
	Sku            string          `gorm:"size:100;not null;index:uniq_stock_level,unique" json:"sku"`
	QuantityOnHand decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity_on_hand"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// applyStockDelta adjusts on-hand stock for one sku. The row is locked for the
// duration of the caller's transaction. A delta that would drive the quantity
// negative is rejected with ErrorInsufficientStock.
func applyStockDelta(tx *gorm.DB, locationId string, sku string, delta decimal.Decimal) error {
	var level StockLevel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("location_id = ? AND sku = ?", locationId, sku).
		First(&level).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return err
		}
		level = StockLevel{LocationId: locationId, Sku: sku, QuantityOnHand: decimal.Zero}
	}

	next := level.QuantityOnHand.Add(delta)
	if next.IsNegative() {
		return utils.ErrorInsufficientStock
	}

	if level.ID == 0 {
		level.QuantityOnHand = next
		return tx.Create(&level).Error
	}
	return tx.Model(&level).Update("quantity_on_hand", next).Error
}

// GetStockLevel reads the current on-hand quantity, zero if the sku has never
// been stocked at the location.
func GetStockLevel(tx *gorm.DB, locationId string, sku string) (decimal.Decimal, error) {
	var level StockLevel
	err := tx.Where("location_id = ? AND sku = ?", locationId, sku).First(&level).Error
	if err == gorm.ErrRecordNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return level.QuantityOnHand, nil
}
