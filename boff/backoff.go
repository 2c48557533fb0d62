// Package boff contains retry-with-backoff helpers shared by the RPC pool,
// avoiding repetition of the same retry boilerplate at every call site.
package boff

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethscriptions-protocol/indexer/config"
	"github.com/ethscriptions-protocol/indexer/logger"
)

func RetryWithMaxElapsed[T any](ctx context.Context, operation func() (T, error), name string) (T, error) {
	return retry(ctx, operation, name, config.BackoffMaxElapsedTime)
}

func Retry[T any](ctx context.Context, operation func() (T, error), name string) (T, error) {
	return retry(ctx, operation, name, 0) // 0 means no max elapsed time
}

func RetryNoReturn(ctx context.Context, operation func() error, name string) error {
	_, err := Retry(
		ctx,
		func() (struct{}, error) {
			return struct{}{}, operation()
		},
		name,
	)

	return err
}

func retry[T any](ctx context.Context, operation func() (T, error), name string, maxElapsedTime time.Duration) (T, error) {
	return backoff.Retry(
		ctx,
		operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsedTime),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debug("%s error: %s - retrying after %v", name, err, d)
		}),
	)
}
