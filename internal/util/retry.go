package util

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds how often and how patiently an operation against a
// remote system (S3, Postgres, RabbitMQ) is retried.
type RetryPolicy struct {
	MaxTries int
	Backoff  time.Duration
}

// DefaultRetryPolicy is used for remote table fetches and snapshot writes.
var DefaultRetryPolicy = RetryPolicy{MaxTries: 3, Backoff: 500 * time.Millisecond}

func (p RetryPolicy) tries() int {
	if p.MaxTries <= 0 {
		return 1
	}
	return p.MaxTries
}

// wait sleeps for the linear backoff of the given attempt or until ctx is done.
func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	if p.Backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The retry helpers return the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithContext calls fn until it returns a nil error, the policy's tries
// are exhausted or ctx is done. Context errors and Permanent errors returned
// by fn are not retried.
func RetryWithContext[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < policy.tries(); i++ {
		if i > 0 {
			if err := policy.wait(ctx, i); err != nil {
				return zero, err
			}
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if isContextErr(err) {
			return zero, err
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErrWithContext is RetryWithContext for operations without a result.
func RetryErrWithContext(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
