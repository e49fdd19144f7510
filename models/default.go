package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/utils"
)

// RecordTimestamp returns the effective timestamp for a record created by a
// queued write: the original client-side creation time when it is plausible
// (not in the future), otherwise now. Live writes get now.
func RecordTimestamp(ctx context.Context) time.Time {
	now := time.Now()
	if queued, ok := utils.GetQueuedRequestFromContext(ctx); ok && queued {
		if createdAt, ok := utils.GetQueuedCreatedAtFromContext(ctx); ok {
			if !createdAt.IsZero() && !createdAt.After(now) {
				return createdAt
			}
		}
	}
	return now
}
