package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReadRetryDelay is the pause before the single retry of a read.
var ReadRetryDelay = 50 * time.Millisecond

// RetryRead runs an idempotent read and retries it once on error. Writes
// must never go through here.
func RetryRead[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err == nil {
		return out, nil
	}

	zap.L().Warn("read failed, retrying once", zap.String("op", op), zap.Error(err))

	select {
	case <-ctx.Done():
		return out, err
	case <-time.After(ReadRetryDelay):
	}

	return fn(ctx)
}
