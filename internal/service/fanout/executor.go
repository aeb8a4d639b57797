package fanout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/unit-kpi-backend/internal/domain/errors"
)

// Task is one unit of work run by the executor.
type Task[T any] func(ctx context.Context) (T, error)

// Settled is the outcome of a single task in RunSettled.
type Settled[T any] struct {
	Value T
	Err   error
}

// Run executes tasks with at most limit in flight and returns their results
// in input order. Tasks start in submission order. If any task fails, Run
// waits for every started task and returns the first error; siblings are not
// cancelled.
func Run[T any](ctx context.Context, limit int, tasks []Task[T]) ([]T, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	results := make([]T, len(tasks))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, task := range tasks {
		g.Go(func() error {
			v, err := call(ctx, task)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunSettled executes tasks like Run but never short-circuits: every task
// reports its own value or error at its input index.
func RunSettled[T any](ctx context.Context, limit int, tasks []Task[T]) ([]Settled[T], error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}

	results := make([]Settled[T], len(tasks))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, task := range tasks {
		g.Go(func() error {
			v, err := call(ctx, task)
			results[i] = Settled[T]{Value: v, Err: err}
			return nil
		})
	}

	_ = g.Wait()
	return results, nil
}

func validateLimit(limit int) error {
	if limit < 1 {
		return errors.NewValidationError(errors.CodeInvalidLimit,
			fmt.Sprintf("concurrency limit must be at least 1, got %d", limit))
	}
	return nil
}

// call runs task and turns a panic into an error.
func call[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(fmt.Sprintf("task panicked: %v", r))
		}
	}()
	return task(ctx)
}
