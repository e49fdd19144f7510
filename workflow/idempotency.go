package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"bitbucket.org/mmdatafocus/possync_backend/models"
	"bitbucket.org/mmdatafocus/possync_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// BusinessFn is one business mutation executed on the gateway's transaction.
// Its result becomes the stored response payload for replays.
type BusinessFn func(tx *gorm.DB) (interface{}, error)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// RunIdempotent applies a client write at most once per (user, idempotency key).
//
// Without a key in context the mutation runs in a plain transaction. With a
// key, a replay returns the stored response without re-executing fn; a first
// delivery runs fn and inserts the IdempotencyRecord in the SAME transaction,
// so the business effect and the dedupe record commit or roll back together.
// The unique constraint on (user_id, idempotency_key) is the final authority:
// if two retries race, exactly one insert wins and the loser serves the
// winner's stored response.
func RunIdempotent(ctx context.Context, db *gorm.DB, endpoint string, fn BusinessFn) (response []byte, replayed bool, err error) {
	key, _ := utils.GetIdempotencyKeyFromContext(ctx)
	if key == "" {
		var payload []byte
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result, ferr := fn(tx)
			if ferr != nil {
				return ferr
			}
			payload, ferr = json.Marshal(result)
			return ferr
		})
		return payload, false, err
	}

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, false, errors.New("user id is required")
	}

	// Fast path: this key was already applied.
	var existing models.IdempotencyRecord
	err = db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userId, key).
		First(&existing).Error
	if err == nil {
		return existing.ResponsePayload, true, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	var payload []byte
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, ferr := fn(tx)
		if ferr != nil {
			return ferr
		}
		payload, ferr = json.Marshal(result)
		if ferr != nil {
			return ferr
		}
		record := models.IdempotencyRecord{
			UserId:          userId,
			IdempotencyKey:  key,
			Endpoint:        endpoint,
			ResponsePayload: payload,
			CreatedAt:       models.RecordTimestamp(ctx),
		}
		return tx.Create(&record).Error
	})
	if err == nil {
		return payload, false, nil
	}

	if isDuplicateKeyErr(err) {
		// Lost the insert race with a concurrent retry of the same key; the
		// other attempt committed. Serve its stored response.
		if rerr := db.WithContext(ctx).
			Where("user_id = ? AND idempotency_key = ?", userId, key).
			First(&existing).Error; rerr != nil {
			return nil, false, rerr
		}
		return existing.ResponsePayload, true, nil
	}
	return nil, false, err
}
