package middlewares

import (
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/utils"
	"github.com/gin-gonic/gin"
)

// Headers set by the offline-queue flush engine on every replayed write.
const (
	HeaderIdempotencyKey  = "X-Idempotency-Key"
	HeaderLocationId      = "X-Location-Id"
	HeaderQueuedRequest   = "X-Queued-Request"
	HeaderQueuedCreatedAt = "X-Queued-Created-At"
	HeaderRetryCount      = "X-Retry-Count"
)

// QueuedRequestMiddleware parses the sync protocol headers into the request
// context so the gateway and the models can act on them. All headers are
// optional: a live online write carries none of them.
func QueuedRequestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)); key != "" {
			ctx = utils.SetIdempotencyKeyInContext(ctx, key)
		}
		if locationId := strings.TrimSpace(c.GetHeader(HeaderLocationId)); locationId != "" {
			ctx = utils.SetLocationIdInContext(ctx, locationId)
		}
		if queued := strings.TrimSpace(c.GetHeader(HeaderQueuedRequest)); strings.EqualFold(queued, "true") {
			ctx = utils.SetQueuedRequestInContext(ctx, true)
		}
		if raw := strings.TrimSpace(c.GetHeader(HeaderQueuedCreatedAt)); raw != "" {
			if createdAt, err := time.Parse(time.RFC3339, raw); err == nil {
				ctx = utils.SetQueuedCreatedAtInContext(ctx, createdAt)
			}
		}
		if raw := strings.TrimSpace(c.GetHeader(HeaderRetryCount)); raw != "" {
			if retries, err := strconv.Atoi(raw); err == nil && retries >= 0 {
				ctx = utils.SetRetryCountInContext(ctx, retries)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
