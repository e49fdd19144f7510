package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyToken         = ContextKey("Token")
	ContextKeyUserId        = ContextKey("UserId")
	ContextKeyUserName      = ContextKey("UserName")
	ContextKeyLocationId    = ContextKey("LocationId")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeyIdempotencyKey carries the X-Idempotency-Key header value.
	// Empty means the request is not replayable and runs as a plain transaction.
	ContextKeyIdempotencyKey = ContextKey("IdempotencyKey")

	// ContextKeyQueuedRequest is true when the write originated from the
	// offline queue rather than a live online submission.
	ContextKeyQueuedRequest = ContextKey("QueuedRequest")

	// ContextKeyQueuedCreatedAt is the original client-side creation time of a
	// queued write. Used to backdate records when plausible.
	ContextKeyQueuedCreatedAt = ContextKey("QueuedCreatedAt")

	// ContextKeyRetryCount is the number of prior delivery attempts (telemetry).
	ContextKeyRetryCount = ContextKey("RetryCount")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
