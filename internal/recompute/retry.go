package recompute

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/expertrank/internal/adapters/scorestore"
	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/internal/domain/scope"
	"github.com/okian/expertrank/pkg/metrics"
)

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, scorestore.ErrNotFound) ||
		errors.Is(err, scorestore.ErrInvalidKey) ||
		errors.Is(err, scope.ErrUnknownEvent) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retry runs fn with exponential backoff. Transient errors that survive
// every attempt come back wrapped in ErrStorageUnavailable.
func retry[T any](ctx context.Context, o *Orchestrator, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInitial
	b.MaxInterval = o.retryMax

	tries := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		tries++
		if tries > 1 {
			metrics.RecordStorageRetry()
		}
		v, err := fn()
		if err != nil && permanent(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(o.retryAttempts))

	if err != nil && !permanent(err) {
		return res, fmt.Errorf("%w: %s after %d attempts: %w", ErrStorageUnavailable, op, tries, err)
	}
	return res, err
}

// do is retry for calls without a result.
func do(ctx context.Context, o *Orchestrator, op string, fn func() error) error {
	_, err := retry(ctx, o, op, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
