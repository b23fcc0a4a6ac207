package registry

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/workforce/core"
)

func TestRegister(t *testing.T) {
	r := newTestRegistry(t, nil)

	mustRegister(t, r, "alpha", core.Profile{Capabilities: []string{"coding"}})

	info, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, core.StatusIdle, info.Status)
	assert.Equal(t, 5, info.Priority, "zero priority takes the default")
	assert.Equal(t, 1.0, info.Performance.SuccessRate)
	assert.Zero(t, info.Performance.AverageLatency)
	assert.Zero(t, info.Performance.TaskCount)

	t.Run("rejects empty id", func(t *testing.T) {
		err := r.Register("  ", stubWorker(core.Profile{}))
		require.Error(t, err)
		assert.True(t, core.IsConfigurationError(err))
	})

	t.Run("rejects nil worker", func(t *testing.T) {
		err := r.Register("nil-worker", nil)
		require.Error(t, err)
		assert.True(t, core.IsConfigurationError(err))
	})
}

func TestRegisterReplacesRecord(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "a", core.Profile{Priority: 3})
	mustRegister(t, r, "b", core.Profile{})

	require.NoError(t, r.RecordTaskCompletion("a", "t1", core.Result{"success": false}, time.Second))
	failWorker(t, r, "a")

	mustRegister(t, r, "a", core.Profile{Priority: 8})

	info, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, core.StatusIdle, info.Status)
	assert.Equal(t, 8, info.Priority)
	assert.Zero(t, info.Performance.TaskCount)
	assert.Equal(t, 1.0, info.Performance.SuccessRate)
	assert.Empty(t, info.Performance.RecentTasks)
	assert.Empty(t, info.StatusHistory)

	assert.Equal(t, []string{"a", "b"}, ids(r.List()), "re-registration keeps the original position")
	assert.Equal(t, 2, r.Len())
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "a", core.Profile{})

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Zero(t, r.Len())

	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestUpdateStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to core.Status
		valid    bool
	}{
		{core.StatusIdle, core.StatusBusy, true},
		{core.StatusIdle, core.StatusError, false},
		{core.StatusBusy, core.StatusIdle, true},
		{core.StatusBusy, core.StatusError, true},
		{core.StatusError, core.StatusIdle, true},
		{core.StatusError, core.StatusBusy, false},
		{core.StatusIdle, core.StatusIdle, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			r := newTestRegistry(t, nil)
			mustRegister(t, r, "w", core.Profile{})

			switch tt.from {
			case core.StatusBusy:
				require.NoError(t, r.UpdateStatus("w", core.StatusBusy, "t"))
			case core.StatusError:
				failWorker(t, r, "w")
			}

			err := r.UpdateStatus("w", tt.to, "t")
			info, _ := r.Get("w")
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.to, info.Status)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidTransition))
			assert.Equal(t, tt.from, info.Status)
		})
	}

	t.Run("unknown worker", func(t *testing.T) {
		r := newTestRegistry(t, nil)
		err := r.UpdateStatus("ghost", core.StatusIdle, "")
		assert.True(t, core.IsNotFound(err))
	})
}

func TestUpdateStatusTracksHistoryAndActivity(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	mustRegister(t, r, "w", core.Profile{})
	registeredAt := clock.Now()

	clock.Advance(time.Minute)
	require.NoError(t, r.UpdateStatus("w", core.StatusBusy, "task-1"))

	info, _ := r.Get("w")
	assert.Equal(t, "task-1", info.CurrentTask)
	assert.Equal(t, core.StatusIdle, info.PreviousStatus)
	assert.Equal(t, registeredAt, info.LastActivity, "busy does not refresh activity")

	clock.Advance(time.Minute)
	require.NoError(t, r.UpdateStatus("w", core.StatusIdle, "task-1"))

	info, _ = r.Get("w")
	assert.Empty(t, info.CurrentTask)
	assert.Equal(t, core.StatusBusy, info.PreviousStatus)
	assert.Equal(t, clock.Now(), info.LastActivity)
	require.Len(t, info.StatusHistory, 2)
	assert.Equal(t, StatusChange{From: core.StatusIdle, To: core.StatusBusy, TaskID: "task-1", At: registeredAt.Add(time.Minute)}, info.StatusHistory[0])
}

func TestAcquire(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{})

	lease, err := r.Acquire("w", "t1")
	require.NoError(t, err)
	require.NotNil(t, lease.Worker)
	assert.Equal(t, "w", lease.WorkerID)
	assert.NotZero(t, lease.Generation)

	info, _ := r.Get("w")
	assert.Equal(t, core.StatusBusy, info.Status)

	_, err = r.Acquire("w", "t2")
	assert.True(t, core.IsUnavailable(err))

	_, err = r.Acquire("ghost", "t3")
	assert.True(t, core.IsNotFound(err))
}

func TestRelease(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(t, clock)
	mustRegister(t, r, "w", core.Profile{})

	var events []EventType
	r.Subscribe(ObserverFunc(func(e Event) { events = append(events, e.Type) }))

	lease, err := r.Acquire("w", "t1")
	require.NoError(t, err)
	require.NoError(t, r.Release(lease, "t1", core.Result{"output": "ok"}, time.Second))

	info, _ := r.Get("w")
	assert.Equal(t, core.StatusIdle, info.Status)
	assert.Equal(t, 1, info.Performance.TaskCount)
	assert.Equal(t, []EventType{EventStatusChanged, EventStatusChanged, EventTaskCompleted}, events)

	lease, err = r.Acquire("w", "t2")
	require.NoError(t, err)
	require.NoError(t, r.Release(lease, "t2", core.Result{"success": false}, time.Second))

	info, _ = r.Get("w")
	assert.Equal(t, core.StatusError, info.Status)
	assert.Equal(t, 2, info.Performance.TaskCount)
	assert.Equal(t, 0.5, info.Performance.SuccessRate)

	assert.True(t, core.IsNotFound(r.Release(core.Lease{WorkerID: "ghost"}, "t3", core.Result{}, 0)))
}

func TestReleaseIgnoresStaleLease(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{})

	stale, err := r.Acquire("w", "old-task")
	require.NoError(t, err)

	mustRegister(t, r, "w", core.Profile{Capabilities: []string{"coding"}})
	fresh, err := r.Acquire("w", "new-task")
	require.NoError(t, err)
	assert.NotEqual(t, stale.Generation, fresh.Generation)

	err = r.Release(stale, "old-task", core.Result{"success": false}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStaleLease))

	info, _ := r.Get("w")
	assert.Equal(t, core.StatusBusy, info.Status, "stale release must not free the new registration")
	assert.Equal(t, "new-task", info.CurrentTask)
	assert.Zero(t, info.Performance.TaskCount)

	require.NoError(t, r.Release(fresh, "new-task", core.Result{}, time.Second))
	info, _ = r.Get("w")
	assert.Equal(t, core.StatusIdle, info.Status)
	assert.Equal(t, 1, info.Performance.TaskCount)
	assert.Equal(t, 1.0, info.Performance.SuccessRate)
}

func TestReleaseCountsCompletionWhenStatusChangeIsRefused(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{})

	lease, err := r.Acquire("w", "t1")
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus("w", core.StatusIdle, ""))

	err = r.Release(lease, "t1", core.Result{"success": false}, time.Second)
	assert.True(t, errors.Is(err, core.ErrInvalidTransition))

	info, _ := r.Get("w")
	assert.Equal(t, core.StatusIdle, info.Status)
	assert.Equal(t, 1, info.Performance.TaskCount)
	assert.Zero(t, info.Performance.SuccessRate)
}

func TestAcquireIsExclusive(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Acquire("w", fmt.Sprintf("t%d", i)); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
}

func TestResetWorker(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{})

	require.NoError(t, r.ResetWorker("w"), "resetting an idle worker is a no-op")

	failWorker(t, r, "w")
	require.NoError(t, r.ResetWorker("w"))
	info, _ := r.Get("w")
	assert.Equal(t, core.StatusIdle, info.Status)

	_, err := r.Acquire("w", "t")
	require.NoError(t, err)
	err = r.ResetWorker("w")
	assert.True(t, errors.Is(err, core.ErrInvalidTransition))

	assert.True(t, core.IsNotFound(r.ResetWorker("ghost")))
}

// Whatever sequence of calls is made, the available set is exactly the set
// of idle workers.
func TestGetAvailableWorkersMatchesIdleSet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	statuses := []core.Status{core.StatusIdle, core.StatusBusy, core.StatusError}
	workerIDs := []string{"w0", "w1", "w2", "w3", "w4", "w5"}

	for run := 0; run < 20; run++ {
		r := newTestRegistry(t, nil)
		model := map[string]core.Status{}

		for step := 0; step < 200; step++ {
			id := workerIDs[rng.Intn(len(workerIDs))]
			switch rng.Intn(5) {
			case 0:
				mustRegister(t, r, id, core.Profile{})
				model[id] = core.StatusIdle
			case 1:
				r.Unregister(id)
				delete(model, id)
			case 2:
				if _, err := r.Acquire(id, "t"); err == nil {
					model[id] = core.StatusBusy
				}
			default:
				to := statuses[rng.Intn(len(statuses))]
				if err := r.UpdateStatus(id, to, "t"); err == nil {
					model[id] = to
				}
			}

			var want []string
			for id, st := range model {
				if st == core.StatusIdle {
					want = append(want, id)
				}
			}
			got := ids(r.GetAvailableWorkers())
			sort.Strings(want)
			sort.Strings(got)
			if len(want) == 0 {
				require.Empty(t, got, "run %d step %d", run, step)
				continue
			}
			require.Equal(t, want, got, "run %d step %d", run, step)
		}
	}
}

func TestGetBusyAndCapabilityLookups(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "coder", core.Profile{Capabilities: []string{"coding"}, Specialties: []string{"code"}})
	mustRegister(t, r, "tester", core.Profile{Capabilities: []string{"testing"}})
	mustRegister(t, r, "ops", core.Profile{Capabilities: []string{"deployment"}, Specialties: []string{"devops"}})

	_, err := r.Acquire("tester", "t1")
	require.NoError(t, err)

	assert.Equal(t, []string{"tester"}, ids(r.GetBusyWorkers()))
	assert.Equal(t, []string{"coder", "ops"}, ids(r.GetAvailableWorkers()))
	assert.Equal(t, []string{"coder"}, ids(r.GetWorkersByCapability("coding")))
	assert.Equal(t, []string{"ops"}, ids(r.GetWorkersByCapability("DevOps")), "specialties match too")
	assert.Empty(t, r.GetWorkersByCapability("security"))
}

// After n completions the running means equal the plain arithmetic means.
func TestRecordTaskCompletionRunningMeans(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for run := 0; run < 25; run++ {
		r := newTestRegistry(t, nil)
		mustRegister(t, r, "w", core.Profile{})

		n := 1 + rng.Intn(80)
		var total time.Duration
		succeeded := 0
		for i := 0; i < n; i++ {
			d := time.Duration(rng.Intn(5000)) * time.Millisecond
			ok := rng.Intn(3) > 0
			total += d
			if ok {
				succeeded++
			}
			require.NoError(t, r.RecordTaskCompletion("w", fmt.Sprintf("t%d", i), core.Result{"success": ok}, d))
		}

		info, _ := r.Get("w")
		mean := float64(total) / float64(n)
		assert.Equal(t, n, info.Performance.TaskCount)
		assert.InDelta(t, mean, float64(info.Performance.AverageLatency), float64(time.Microsecond))
		assert.InDelta(t, float64(succeeded)/float64(n), info.Performance.SuccessRate, 1e-9)
	}
}

func TestRecordTaskCompletionRingBuffer(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{})

	for i := 0; i < 60; i++ {
		require.NoError(t, r.RecordTaskCompletion("w", fmt.Sprintf("t%d", i), core.Result{}, time.Millisecond))
	}

	info, _ := r.Get("w")
	require.Len(t, info.Performance.RecentTasks, 50)
	assert.Equal(t, "t10", info.Performance.RecentTasks[0].TaskID, "oldest entries are dropped")
	assert.Equal(t, "t59", info.Performance.RecentTasks[49].TaskID)
	assert.Equal(t, 60, info.Performance.TaskCount)
}

func TestRecordTaskCompletionSuccessDefinition(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{})

	require.NoError(t, r.RecordTaskCompletion("w", "a", core.Result{"output": "done"}, 0))
	require.NoError(t, r.RecordTaskCompletion("w", "b", core.Result{"success": "false"}, 0))
	require.NoError(t, r.RecordTaskCompletion("w", "c", core.Result{"success": false}, 0))

	info, _ := r.Get("w")
	outcomes := info.Performance.RecentTasks
	assert.True(t, outcomes[0].Success, "missing success field counts as success")
	assert.True(t, outcomes[1].Success, "only a boolean false is a failure")
	assert.False(t, outcomes[2].Success)

	assert.True(t, core.IsNotFound(r.RecordTaskCompletion("ghost", "x", core.Result{}, 0)))
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := newTestRegistry(t, nil)
	mustRegister(t, r, "w", core.Profile{Capabilities: []string{"coding"}})

	info, _ := r.Get("w")
	info.Capabilities[0] = "mutated"
	info.Status = core.StatusError

	again, _ := r.Get("w")
	assert.Equal(t, []string{"coding"}, again.Capabilities)
	assert.Equal(t, core.StatusIdle, again.Status)
}

func TestObservers(t *testing.T) {
	r := newTestRegistry(t, nil)

	var events []Event
	unsubscribe := r.Subscribe(ObserverFunc(func(e Event) {
		events = append(events, e)
	}))

	mustRegister(t, r, "w", core.Profile{})
	_, err := r.Acquire("w", "t1")
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus("w", core.StatusIdle, "t1"))
	require.NoError(t, r.UpdateStatus("w", core.StatusIdle, "t1"))
	require.NoError(t, r.RecordTaskCompletion("w", "t1", core.Result{}, time.Second))
	r.Unregister("w")

	var types []EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []EventType{
		EventRegistered,
		EventStatusChanged,
		EventStatusChanged,
		EventTaskCompleted,
		EventUnregistered,
	}, types, "same-status updates emit nothing")

	assert.Equal(t, core.StatusIdle, events[1].From)
	assert.Equal(t, core.StatusBusy, events[1].To)
	assert.Equal(t, time.Second, events[3].Duration)
	assert.True(t, events[3].Success)

	unsubscribe()
	mustRegister(t, r, "x", core.Profile{})
	assert.Len(t, events, 5)
}

func TestObserverMayCallBackIntoRegistry(t *testing.T) {
	r := newTestRegistry(t, nil)

	var lens []int
	r.Subscribe(ObserverFunc(func(e Event) {
		lens = append(lens, r.Len())
	}))

	mustRegister(t, r, "a", core.Profile{})
	mustRegister(t, r, "b", core.Profile{})

	assert.Equal(t, []int{1, 2}, lens)
}

func TestWithDefaults(t *testing.T) {
	r := New(core.RegistryConfig{})
	assert.Equal(t, core.DefaultRegistryConfig(), r.Config())
}
