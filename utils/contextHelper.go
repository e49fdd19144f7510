package utils

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyLocationId    = appctx.ContextKeyLocationId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId

	ContextKeyIdempotencyKey  = appctx.ContextKeyIdempotencyKey
	ContextKeyQueuedRequest   = appctx.ContextKeyQueuedRequest
	ContextKeyQueuedCreatedAt = appctx.ContextKeyQueuedCreatedAt
	ContextKeyRetryCount      = appctx.ContextKeyRetryCount
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetLocationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyLocationId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetIdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyIdempotencyKey)
}

func GetQueuedRequestFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyQueuedRequest)
}

func GetQueuedCreatedAtFromContext(ctx context.Context) (time.Time, bool) {
	v, ok := ctx.Value(ContextKeyQueuedCreatedAt).(time.Time)
	return v, ok
}

func GetRetryCountFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyRetryCount)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetLocationIdInContext(ctx context.Context, locationId string) context.Context {
	return appctx.Set(ctx, ContextKeyLocationId, locationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetIdempotencyKeyInContext(ctx context.Context, key string) context.Context {
	return appctx.Set(ctx, ContextKeyIdempotencyKey, key)
}

func SetQueuedRequestInContext(ctx context.Context, queued bool) context.Context {
	return appctx.Set(ctx, ContextKeyQueuedRequest, queued)
}

func SetQueuedCreatedAtInContext(ctx context.Context, createdAt time.Time) context.Context {
	return appctx.Set(ctx, ContextKeyQueuedCreatedAt, createdAt)
}

func SetRetryCountInContext(ctx context.Context, retries int) context.Context {
	return appctx.Set(ctx, ContextKeyRetryCount, retries)
}
