// Package fanout runs heterogeneous tasks concurrently, waits for all of them
// and applies a per-task failure policy to the joined outcomes.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Policy decides how a task failure affects the aggregate.
type Policy int

const (
	// Fatal failures abort the aggregate once every task has settled.
	Fatal Policy = iota
	// Degrading failures are recorded but leave the aggregate successful.
	Degrading
)

func (p Policy) String() string {
	switch p {
	case Fatal:
		return "fatal"
	case Degrading:
		return "degrading"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("task panicked")

// Task is one unit of concurrent work.
type Task struct {
	Name   string
	Policy Policy
	Run    func(ctx context.Context) error
}

// Outcome records how a single task settled.
type Outcome struct {
	Name   string
	Policy Policy
	Err    error
}

// Result is the joined view of a Run.
type Result struct {
	Outcomes []Outcome
}

// FatalErr returns the first failure among Fatal tasks in submission order.
func (r Result) FatalErr() error {
	for _, o := range r.Outcomes {
		if o.Policy == Fatal && o.Err != nil {
			return fmt.Errorf("%s: %w", o.Name, o.Err)
		}
	}
	return nil
}

// Degraded lists the Degrading tasks that failed.
func (r Result) Degraded() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Policy == Degrading && o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Run starts every task, waits for all of them to settle and returns their
// outcomes in submission order. A failing task never cancels its siblings.
// limit <= 0 means no limit.
func Run(ctx context.Context, limit int, tasks ...Task) Result {
	outcomes := make([]Outcome, len(tasks))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, task := range tasks {
		outcomes[i] = Outcome{Name: task.Name, Policy: task.Policy}
		g.Go(func() error {
			outcomes[i].Err = protect(ctx, task.Run)
			return nil
		})
	}
	_ = g.Wait()
	return Result{Outcomes: outcomes}
}

// Settled is the index-correlated result of one Map call.
type Settled[R any] struct {
	Value R
	Err   error
}

// Map applies fn to every item with at most limit calls in flight and returns
// the settled results in input order. limit <= 0 means no limit.
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) (R, error)) []Settled[R] {
	results := make([]Settled[R], len(items))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			results[i].Err = protect(ctx, func(ctx context.Context) error {
				v, err := fn(ctx, item)
				results[i].Value = v
				return err
			})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func protect(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	if fn == nil {
		return errors.New("nil task")
	}
	return fn(ctx)
}
