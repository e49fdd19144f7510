package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Payment struct {
	ID           int             `gorm:"primary_key" json:"id"`
	LocationId   string          `gorm:"size:64;not null;index" json:"location_id"`
	UserId       int             `gorm:"index;not null" json:"user_id"`
	CustomerName string          `gorm:"size:255" json:"customer_name"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentMode  string          `gorm:"size:50" json:"payment_mode"`
	PaymentDate  time.Time       `gorm:"not null" json:"payment_date"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewPayment struct {
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	PaymentMode  string          `json:"payment_mode"`
}

func CreatePayment(tx *gorm.DB, ctx context.Context, input *NewPayment) (*Payment, error) {
	locationId, ok := utils.GetLocationIdFromContext(ctx)
	if !ok || locationId == "" {
		return nil, errors.New("location id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("amount must be positive")
	}

	payment := Payment{
		LocationId:   locationId,
		UserId:       userId,
		CustomerName: input.CustomerName,
		Amount:       input.Amount,
		PaymentMode:  input.PaymentMode,
		PaymentDate:  RecordTimestamp(ctx),
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}
