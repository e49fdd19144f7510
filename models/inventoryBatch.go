package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InventoryBatch struct {
	ID         int             `gorm:"primary_key" json:"id"`
	LocationId string          `gorm:"size:64;not null;index" json:"location_id"`
	UserId     int             `gorm:"index;not null" json:"user_id"`
	Sku        string          `gorm:"size:100;not null;index" json:"sku"`
	Name       string          `gorm:"size:255" json:"name"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCost   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	ReceivedAt time.Time       `gorm:"not null" json:"received_at"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewInventoryBatch struct {
	Sku      string          `json:"sku" binding:"required"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// CreateInventoryBatch records a received batch and moves its quantity into
// stock on the caller's transaction.
func CreateInventoryBatch(tx *gorm.DB, ctx context.Context, input *NewInventoryBatch) (*InventoryBatch, error) {
	locationId, ok := utils.GetLocationIdFromContext(ctx)
	if !ok || locationId == "" {
		return nil, errors.New("location id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("quantity must be positive")
	}

	batch := InventoryBatch{
		LocationId: locationId,
		UserId:     userId,
		Sku:        input.Sku,
		Name:       input.Name,
		Quantity:   input.Quantity,
		UnitCost:   input.UnitCost,
		ReceivedAt: RecordTimestamp(ctx),
	}

	if err := applyStockDelta(tx, locationId, input.Sku, input.Quantity); err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}
