package models

import (
	"time"
)

// IdempotencyRecord marks one applied client write per (user, idempotency
// key). The unique index is the arbiter of at-most-once application: the
// record is inserted in the same transaction as the business effect, so a
// replay finds either the committed record or nothing at all.
type IdempotencyRecord struct {
	ID              int       `gorm:"primary_key" json:"id"`
	UserId          int       `gorm:"not null;index:uniq_idem,unique" json:"user_id"`
	IdempotencyKey  string    `gorm:"size:128;not null;index:uniq_idem,unique" json:"idempotency_key"`
	Endpoint        string    `gorm:"size:255" json:"endpoint"`
	ResponsePayload []byte    `gorm:"type:json" json:"response_payload"`
	CreatedAt       time.Time `json:"created_at"`
}
