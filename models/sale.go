package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Sale struct {
	ID           int             `gorm:"primary_key" json:"id"`
	LocationId   string          `gorm:"size:64;not null;index" json:"location_id"`
	UserId       int             `gorm:"index;not null" json:"user_id"`
	CustomerName string          `gorm:"size:255" json:"customer_name"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	SaleDate     time.Time       `gorm:"not null" json:"sale_date"`
	Details      []SaleDetail    `json:"details"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type SaleDetail struct {
	ID        int             `gorm:"primary_key" json:"id"`
	SaleId    int             `gorm:"index;not null" json:"sale_id"`
	Sku       string          `gorm:"size:100;not null" json:"sku"`
	Name      string          `gorm:"size:255" json:"name"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
}

type NewSale struct {
	CustomerName string          `json:"customer_name"`
	Details      []NewSaleDetail `json:"details" binding:"required,min=1"`
}

type NewSaleDetail struct {
	Sku       string          `json:"sku" binding:"required"`
	Name      string          `json:"name"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateSale records a sale and moves the sold quantities out of stock, all on
// the caller's transaction so the gateway can commit it together with the
// idempotency record.
func CreateSale(tx *gorm.DB, ctx context.Context, input *NewSale) (*Sale, error) {
	locationId, ok := utils.GetLocationIdFromContext(ctx)
	if !ok || locationId == "" {
		return nil, errors.New("location id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}

	sale := Sale{
		LocationId:   locationId,
		UserId:       userId,
		CustomerName: input.CustomerName,
		SaleDate:     RecordTimestamp(ctx),
	}

	var total decimal.Decimal
	for _, item := range input.Details {
		if item.Qty.LessThanOrEqual(decimal.Zero) {
			return nil, errors.New("qty must be positive")
		}
		amount := item.Qty.Mul(item.UnitPrice)
		total = total.Add(amount)
		sale.Details = append(sale.Details, SaleDetail{
			Sku:       item.Sku,
			Name:      item.Name,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
			Amount:    amount,
		})

		if err := applyStockDelta(tx, locationId, item.Sku, item.Qty.Neg()); err != nil {
			return nil, err
		}
	}
	sale.TotalAmount = total

	if err := tx.WithContext(ctx).Create(&sale).Error; err != nil {
		return nil, err
	}
	return &sale, nil
}
