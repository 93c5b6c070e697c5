package util

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptTimeout is returned by RetryOnTimeout when every attempt ran
// into its per-attempt deadline.
var ErrAttemptTimeout = errors.New("attempt timed out")

// RetryWithContext makes up to maxTries calls until fn succeeds. Context
// errors, from ctx or returned by fn, end the loop immediately.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryOnTimeout runs fn with a fresh deadline of timeout per attempt and
// makes at most maxRetries+1 attempts. Only attempts that exceed their own
// deadline are retried; any other error ends the loop after that attempt.
// fn runs on its own goroutine so an attempt that ignores its context is
// abandoned once the deadline passes.
//
// The returned int is the number of attempts made. If the parent ctx is
// done, ctx.Err() is returned without further attempts.
func RetryOnTimeout[T any](
	ctx context.Context,
	timeout time.Duration,
	maxRetries int,
	fn func(context.Context) (T, error),
) (T, int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var zero T
	attempts := 0
	for attempts <= maxRetries {
		if ctx.Err() != nil {
			return zero, attempts, ctx.Err()
		}
		attempts++

		result, err := runAttempt(ctx, timeout, fn)
		if err == nil {
			return result, attempts, nil
		}
		if errors.Is(err, ErrAttemptTimeout) {
			continue
		}
		return zero, attempts, err
	}

	return zero, attempts, ErrAttemptTimeout
}

type attemptResult[T any] struct {
	value T
	err   error
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.value, nil
		}
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil && attemptCtx.Err() != nil {
			return zero, ErrAttemptTimeout
		}
		return zero, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrAttemptTimeout
	}
}
