package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/workforce/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func stubWorker(p core.Profile) core.Worker {
	return core.WorkerFunc{
		Fn: func(ctx context.Context, task *core.Task) (core.Result, error) {
			return core.Result{"success": true}, nil
		},
		Meta: p,
	}
}

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	if clock == nil {
		clock = newFakeClock()
	}
	return New(core.DefaultRegistryConfig(), WithClock(clock.Now))
}

func mustRegister(t *testing.T, r *Registry, id string, p core.Profile) {
	t.Helper()
	require.NoError(t, r.Register(id, stubWorker(p)))
}

// failWorker drives a worker through busy into error status.
func failWorker(t *testing.T, r *Registry, id string) {
	t.Helper()
	_, err := r.Acquire(id, "task-fail")
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus(id, core.StatusError, "task-fail"))
}

func ids(infos []WorkerInfo) []string {
	out := make([]string, 0, len(infos))
	for _, w := range infos {
		out = append(out, w.ID)
	}
	return out
}
