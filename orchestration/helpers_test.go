package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/itsneelabh/workforce/core"
)

var errBoom = errors.New("boom")

// scriptedWorker records every call and delegates to fn. call is 1-based.
type scriptedWorker struct {
	mu      sync.Mutex
	calls   int
	tasks   []*core.Task
	fn      func(ctx context.Context, task *core.Task, call int) (core.Result, error)
	profile core.Profile
}

func (w *scriptedWorker) Execute(ctx context.Context, task *core.Task) (core.Result, error) {
	w.mu.Lock()
	w.calls++
	n := w.calls
	w.tasks = append(w.tasks, task)
	w.mu.Unlock()
	return w.fn(ctx, task, n)
}

func (w *scriptedWorker) Profile() core.Profile { return w.profile }

func (w *scriptedWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *scriptedWorker) Task(i int) *core.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tasks[i]
}

func returning(result core.Result) *scriptedWorker {
	return &scriptedWorker{fn: func(context.Context, *core.Task, int) (core.Result, error) {
		return result, nil
	}}
}

func failing(err error) *scriptedWorker {
	return &scriptedWorker{fn: func(context.Context, *core.Task, int) (core.Result, error) {
		return nil, err
	}}
}

func sleeping(d time.Duration, result core.Result) *scriptedWorker {
	return &scriptedWorker{fn: func(ctx context.Context, _ *core.Task, _ int) (core.Result, error) {
		select {
		case <-time.After(d):
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

// blocking never returns on its own; it reports cancellation on cancelled.
func blocking(cancelled chan<- struct{}) *scriptedWorker {
	return &scriptedWorker{fn: func(ctx context.Context, _ *core.Task, _ int) (core.Result, error) {
		<-ctx.Done()
		if cancelled != nil {
			close(cancelled)
		}
		return nil, ctx.Err()
	}}
}

// bogusStrategy is a strategy the executor has no algorithm for.
type bogusStrategy struct{}

func (bogusStrategy) Kind() Kind        { return Kind("bogus") }
func (bogusStrategy) Workers() []string { return nil }
func (bogusStrategy) Options() Options  { return Options{} }
func (bogusStrategy) validate() error   { return nil }
func (bogusStrategy) sealed()           {}
