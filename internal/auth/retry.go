// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// readRetryDelay is the pause before the single retry of an idempotent read.
const readRetryDelay = 25 * time.Millisecond

// retryRead runs an idempotent read, retrying once when it fails with a
// store error. Writes must never go through here.
func retryRead[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var out T
	backoff := retry.WithMaxRetries(1, retry.NewConstant(readRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			if errors.Is(err, ErrStore) && ctx.Err() == nil {
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	return out, err //nolint:wrapcheck // callers wrap with their own code
}
