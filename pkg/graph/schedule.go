package graph

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// ErrTaskTimeout marks a task whose every attempt ran past its deadline.
var ErrTaskTimeout = errors.New("task timed out on every attempt")

// Task is one unit of scheduled work.
type Task[T any] func(ctx context.Context) (T, error)

// TaskResult is the outcome of one Task. A result that is not OK holds
// the zero Value.
type TaskResult[T any] struct {
	Value    T
	Err      error
	Attempts int
}

func (r TaskResult[T]) OK() bool {
	return r.Err == nil
}

// ScheduleOptions bounds a RunTasks call. Timeout applies to each attempt,
// MaxRetries counts the attempts after the first one and Parallel caps the
// number of tasks in flight (0 means no cap).
type ScheduleOptions struct {
	Timeout    time.Duration
	MaxRetries int
	Parallel   int
}

// RunTasks runs every task and returns one result per task, in input
// order. A timed out attempt is retried until MaxRetries is exhausted;
// any other error ends that task after a single attempt. Tasks never
// cancel each other. If ctx is canceled, tasks that have not finished
// report ctx.Err().
func RunTasks[T any](ctx context.Context, tasks []Task[T], opts ScheduleOptions) []TaskResult[T] {
	results := make([]TaskResult[T], len(tasks))

	// a plain group on purpose: one failed task must not cancel the rest
	var g errgroup.Group
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}

	for i, task := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = TaskResult[T]{Err: ctx.Err()}
				return nil
			}

			value, attempts, err := util.RetryOnTimeout(ctx, opts.Timeout, opts.MaxRetries, func(ctx context.Context) (T, error) {
				return task(ctx)
			})
			if errors.Is(err, util.ErrAttemptTimeout) {
				err = ErrTaskTimeout
			}
			if err != nil {
				logger.Warn("[Scheduler] Task failed", "task", i, "attempts", attempts, "err", err)
			} else if attempts > 1 {
				logger.Debug("[Scheduler] Task succeeded after retry", "task", i, "attempts", attempts)
			}

			results[i] = TaskResult[T]{Value: value, Err: err, Attempts: attempts}
			return nil
		})
	}

	_ = g.Wait()

	return results
}
