package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func sleepTask(d time.Duration, value int) Task[int] {
	return func(ctx context.Context) (int, error) {
		select {
		case <-time.After(d):
			return value, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func TestRunTasks_AllSucceed(t *testing.T) {
	tasks := []Task[int]{
		sleepTask(30*time.Millisecond, 0),
		sleepTask(0, 1),
		sleepTask(10*time.Millisecond, 2),
	}

	results := RunTasks(context.Background(), tasks, ScheduleOptions{Timeout: time.Second, MaxRetries: 2})
	if len(results) != len(tasks) {
		t.Fatalf("expected %d results, got %d", len(tasks), len(results))
	}
	for i, r := range results {
		if !r.OK() {
			t.Fatalf("task %d failed: %v", i, r.Err)
		}
		if r.Value != i {
			t.Fatalf("task %d returned %d, results are out of order", i, r.Value)
		}
		if r.Attempts != 1 {
			t.Fatalf("task %d took %d attempts", i, r.Attempts)
		}
	}
}

func TestRunTasks_TimeoutThenSucceed(t *testing.T) {
	var calls atomic.Int32
	task := func(ctx context.Context) (string, error) {
		if calls.Add(1) <= 2 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}

	results := RunTasks(context.Background(), []Task[string]{task}, ScheduleOptions{Timeout: 20 * time.Millisecond, MaxRetries: 5})
	if !results[0].OK() || results[0].Value != "ok" {
		t.Fatalf("expected success, got %+v", results[0])
	}
	if results[0].Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", results[0].Attempts, calls.Load())
	}
}

func TestRunTasks_NonTimeoutErrorIsNotRetried(t *testing.T) {
	var failing, healthy atomic.Int32
	boom := errors.New("invalid output")

	tasks := []Task[int]{
		func(ctx context.Context) (int, error) {
			healthy.Add(1)
			return 7, nil
		},
		func(ctx context.Context) (int, error) {
			failing.Add(1)
			return 0, boom
		},
	}

	results := RunTasks(context.Background(), tasks, ScheduleOptions{Timeout: time.Second, MaxRetries: 5})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].OK() || results[0].Value != 7 {
		t.Fatalf("expected healthy task to succeed, got %+v", results[0])
	}
	if results[1].OK() || !errors.Is(results[1].Err, boom) {
		t.Fatalf("expected failing task to report its error, got %+v", results[1])
	}
	if failing.Load() != 1 || results[1].Attempts != 1 {
		t.Fatalf("expected exactly one call of the failing task, got %d", failing.Load())
	}
	if results[1].Value != 0 {
		t.Fatalf("expected zero value for failed task, got %d", results[1].Value)
	}
}

func TestRunTasks_AlwaysTimesOut(t *testing.T) {
	var calls atomic.Int32
	task := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-ctx.Done()
		return 0, ctx.Err()
	}

	results := RunTasks(context.Background(), []Task[int]{task}, ScheduleOptions{Timeout: 10 * time.Millisecond, MaxRetries: 3})
	if !errors.Is(results[0].Err, ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", results[0].Err)
	}
	if calls.Load() != 4 || results[0].Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d (calls %d)", results[0].Attempts, calls.Load())
	}
}

func TestRunTasks_AbandonsTaskIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	task := func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}

	start := time.Now()
	results := RunTasks(context.Background(), []Task[int]{task}, ScheduleOptions{Timeout: 10 * time.Millisecond, MaxRetries: 1})
	if !errors.Is(results[0].Err, ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", results[0].Err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected stuck task to be abandoned")
	}
}

func TestRunTasks_AllFail(t *testing.T) {
	tasks := make([]Task[int], 5)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			return 0, errors.New("nope")
		}
	}

	results := RunTasks(context.Background(), tasks, ScheduleOptions{Timeout: time.Second, MaxRetries: 2, Parallel: 2})
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, r := range results {
		if r.OK() {
			t.Fatalf("expected task %d to fail", i)
		}
	}
}

func TestRunTasks_Empty(t *testing.T) {
	results := RunTasks[int](context.Background(), nil, ScheduleOptions{})
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestRunTasks_ParallelLimit(t *testing.T) {
	var active, peak atomic.Int32
	task := func(ctx context.Context) (int, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return 0, nil
	}

	tasks := make([]Task[int], 8)
	for i := range tasks {
		tasks[i] = task
	}
	RunTasks(context.Background(), tasks, ScheduleOptions{Timeout: time.Second, Parallel: 2})

	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 tasks in flight, saw %d", peak.Load())
	}
}

func TestRunTasks_CanceledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	task := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 1, nil
	}

	results := RunTasks(ctx, []Task[int]{task, task}, ScheduleOptions{Timeout: time.Second, MaxRetries: 3})
	for i, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("expected task %d to report context.Canceled, got %v", i, r.Err)
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no calls after cancel, got %d", calls.Load())
	}
}
