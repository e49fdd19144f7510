package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Expense struct {
	ID          int             `gorm:"primary_key" json:"id"`
	LocationId  string          `gorm:"size:64;not null;index" json:"location_id"`
	UserId      int             `gorm:"index;not null" json:"user_id"`
	Category    string          `gorm:"size:100" json:"category"`
	Description string          `gorm:"type:text" json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	ExpenseDate time.Time       `gorm:"not null" json:"expense_date"`
	DueDate     *time.Time      `json:"due_date"`
	IsOverdue   bool            `gorm:"default:false" json:"is_overdue"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewExpense struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	DueDate     *time.Time      `json:"due_date"`
}

func CreateExpense(tx *gorm.DB, ctx context.Context, input *NewExpense) (*Expense, error) {
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

	expense := Expense{
		LocationId:  locationId,
		UserId:      userId,
		Category:    input.Category,
		Description: input.Description,
		Amount:      input.Amount,
		ExpenseDate: RecordTimestamp(ctx),
		DueDate:     input.DueDate,
	}
	if err := tx.WithContext(ctx).Create(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}

// MarkOverdueExpenses flags unpaid expenses whose due date has passed. Runs
// inside the due-date sweep job under the job lock.
func MarkOverdueExpenses(tx *gorm.DB, asOf time.Time) (int64, error) {
	res := tx.Model(&Expense{}).
		Where("due_date IS NOT NULL AND due_date < ? AND is_overdue = ?", asOf, false).
		Update("is_overdue", true)
	return res.RowsAffected, res.Error
}
