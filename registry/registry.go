// Package registry owns the pool of workers: their status, capability and
// domain indexing, performance tracking, health reporting and eviction.
//
// All methods are safe for concurrent use. Lookups return WorkerInfo
// copies; the only way to change a worker's status is through the registry.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/workforce/core"
)

// Registry is an in-process worker pool.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	order   []string // registration order, used for stable iteration
	nextGen uint64

	cfg    core.RegistryConfig
	logger core.Logger
	now    func() time.Time

	obsMu     sync.RWMutex
	observers []subscription
	nextSubID uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Component-aware loggers are tagged "registry".
func WithLogger(logger core.Logger) Option {
	return func(r *Registry) {
		r.logger = core.ForComponent(logger, "registry")
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithObserver subscribes an observer at construction time.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.Subscribe(o)
	}
}

// New creates an empty registry. Zero-valued config fields take the
// defaults from core.DefaultRegistryConfig.
func New(cfg core.RegistryConfig, opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*record),
		cfg:     withDefaults(cfg),
		logger:  &core.NoOpLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func withDefaults(cfg core.RegistryConfig) core.RegistryConfig {
	def := core.DefaultRegistryConfig()
	if cfg.RecentTaskLimit <= 0 {
		cfg.RecentTaskLimit = def.RecentTaskLimit
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.SuccessRateThreshold <= 0 {
		cfg.SuccessRateThreshold = def.SuccessRateThreshold
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = def.LatencyThreshold
	}
	if cfg.ResponseTimeThreshold <= 0 {
		cfg.ResponseTimeThreshold = def.ResponseTimeThreshold
	}
	if cfg.DefaultPriority <= 0 {
		cfg.DefaultPriority = def.DefaultPriority
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	return cfg
}

// Config returns the effective configuration.
func (r *Registry) Config() core.RegistryConfig {
	return r.cfg
}

// Register inserts or fully replaces the record for id. A replaced worker
// starts over with neutral performance and an idle status but keeps its
// place in the iteration order. Leases taken on the replaced worker no
// longer apply to id.
func (r *Registry) Register(id string, w core.Worker) error {
	if strings.TrimSpace(id) == "" {
		return core.NewFrameworkError("registry.Register", "worker",
			fmt.Errorf("worker id is required: %w", core.ErrInvalidConfiguration))
	}
	if w == nil {
		return &core.FrameworkError{
			Op:   "registry.Register",
			Kind: "worker",
			ID:   id,
			Err:  fmt.Errorf("worker is nil: %w", core.ErrInvalidConfiguration),
		}
	}

	now := r.now()
	rec := newRecord(id, w, r.cfg.DefaultPriority, now)

	r.mu.Lock()
	r.nextGen++
	rec.gen = r.nextGen
	_, replaced := r.records[id]
	r.records[id] = rec
	if !replaced {
		r.order = append(r.order, id)
	}
	r.mu.Unlock()

	r.logger.Info("Registered worker", map[string]interface{}{
		"worker_id":    id,
		"capabilities": rec.profile.Capabilities,
		"specialties":  rec.profile.Specialties,
		"priority":     rec.profile.Priority,
		"replaced":     replaced,
	})
	r.notify(Event{Type: EventRegistered, WorkerID: id, To: core.StatusIdle, Timestamp: now})
	return nil
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	removed := r.removeLocked(id)
	r.mu.Unlock()

	if removed {
		r.notify(Event{Type: EventUnregistered, WorkerID: id, Timestamp: r.now()})
	}
	return removed
}

// removeLocked must be called with r.mu held for writing.
func (r *Registry) removeLocked(id string) bool {
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return WorkerInfo{}, false
	}
	return rec.snapshot(), true
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// List returns every worker in registration order.
func (r *Registry) List() []WorkerInfo {
	return r.filter(func(*record) bool { return true })
}

// GetAvailableWorkers returns exactly the idle workers.
func (r *Registry) GetAvailableWorkers() []WorkerInfo {
	return r.filter(func(rec *record) bool { return rec.status == core.StatusIdle })
}

// GetBusyWorkers returns exactly the busy workers.
func (r *Registry) GetBusyWorkers() []WorkerInfo {
	return r.filter(func(rec *record) bool { return rec.status == core.StatusBusy })
}

// GetWorkersByCapability returns workers declaring tag as a capability or
// a specialty, compared case-insensitively.
func (r *Registry) GetWorkersByCapability(tag string) []WorkerInfo {
	return r.filter(func(rec *record) bool {
		return containsFold(rec.profile.Capabilities, tag) || containsFold(rec.profile.Specialties, tag)
	})
}

func (r *Registry) filter(keep func(*record) bool) []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(r.order))
	for _, id := range r.order {
		rec := r.records[id]
		if keep(rec) {
			out = append(out, rec.snapshot())
		}
	}
	return out
}

// transitions lists the legal status changes. Staying in the same status
// is always allowed and is not recorded.
var transitions = map[core.Status]map[core.Status]bool{
	core.StatusIdle:  {core.StatusBusy: true},
	core.StatusBusy:  {core.StatusIdle: true, core.StatusError: true},
	core.StatusError: {core.StatusIdle: true},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to core.Status) bool {
	return from == to || transitions[from][to]
}

// UpdateStatus changes the status of id. Setting idle refreshes the
// worker's last activity.
func (r *Registry) UpdateStatus(id string, status core.Status, taskID string) error {
	r.mu.Lock()
	ev, err := r.setStatusLocked("registry.UpdateStatus", id, status, taskID)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if ev != nil {
		r.notify(*ev)
	}
	return nil
}

// setStatusLocked must be called with r.mu held for writing. It returns
// the event to emit, or nil when the status did not change.
func (r *Registry) setStatusLocked(op, id string, status core.Status, taskID string) (*Event, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, &core.FrameworkError{Op: op, Kind: "worker", ID: id, Err: core.ErrWorkerNotFound}
	}
	if !CanTransition(rec.status, status) {
		return nil, &core.FrameworkError{
			Op:   op,
			Kind: "worker",
			ID:   id,
			Err:  fmt.Errorf("%s -> %s: %w", rec.status, status, core.ErrInvalidTransition),
		}
	}

	now := r.now()
	if status == core.StatusIdle {
		rec.lastActivity = now
	}
	if rec.status == status {
		return nil, nil
	}

	from := rec.status
	rec.previous = from
	rec.status = status
	if status == core.StatusBusy {
		rec.task = taskID
	} else {
		rec.task = ""
	}
	rec.history = append(rec.history, StatusChange{From: from, To: status, TaskID: taskID, At: now})

	return &Event{
		Type:      EventStatusChanged,
		WorkerID:  id,
		TaskID:    taskID,
		From:      from,
		To:        status,
		Timestamp: now,
	}, nil
}

// Acquire atomically moves an idle worker to busy and returns a lease on
// it. A missing worker yields ErrWorkerNotFound, a non-idle one
// ErrWorkerUnavailable. The lease is handed back through Release.
func (r *Registry) Acquire(id, taskID string) (core.Lease, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return core.Lease{}, &core.FrameworkError{Op: "registry.Acquire", Kind: "worker", ID: id, Err: core.ErrWorkerNotFound}
	}
	if rec.status != core.StatusIdle {
		status := rec.status
		r.mu.Unlock()
		return core.Lease{}, &core.FrameworkError{
			Op:   "registry.Acquire",
			Kind: "worker",
			ID:   id,
			Err:  fmt.Errorf("status %s: %w", status, core.ErrWorkerUnavailable),
		}
	}
	ev, err := r.setStatusLocked("registry.Acquire", id, core.StatusBusy, taskID)
	lease := core.Lease{WorkerID: id, Generation: rec.gen, Worker: rec.worker}
	r.mu.Unlock()

	if err != nil {
		return core.Lease{}, err
	}
	if ev != nil {
		r.notify(*ev)
	}
	return lease, nil
}

// Release ends a lease: it records the completion and moves the worker to
// idle, or to error when result reports failure, in one step. A lease
// taken before id was re-registered fails with ErrStaleLease and changes
// nothing.
func (r *Registry) Release(lease core.Lease, taskID string, result core.Result, duration time.Duration) error {
	const op = "registry.Release"
	id := lease.WorkerID
	now := r.now()
	outcome := TaskOutcome{
		TaskID:    taskID,
		Success:   result.Succeeded(),
		Duration:  duration,
		Timestamp: now,
	}
	status := core.StatusIdle
	if !outcome.Success {
		status = core.StatusError
	}

	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return &core.FrameworkError{Op: op, Kind: "worker", ID: id, Err: core.ErrWorkerNotFound}
	}
	if rec.gen != lease.Generation {
		r.mu.Unlock()
		return &core.FrameworkError{
			Op:   op,
			Kind: "worker",
			ID:   id,
			Err:  fmt.Errorf("generation %d, current %d: %w", lease.Generation, rec.gen, core.ErrStaleLease),
		}
	}
	// The completion counts even when the worker has moved on to a status
	// that cannot go to idle or error, such as offline.
	ev, err := r.setStatusLocked(op, id, status, taskID)
	rec.observe(outcome, r.cfg.RecentTaskLimit)
	r.mu.Unlock()

	events := []Event{}
	if ev != nil {
		events = append(events, *ev)
	}
	events = append(events, Event{
		Type:      EventTaskCompleted,
		WorkerID:  id,
		TaskID:    taskID,
		Success:   outcome.Success,
		Duration:  duration,
		Timestamp: now,
	})
	r.notify(events...)
	return err
}

// ResetWorker returns a worker in error status to idle. Resetting an idle
// worker is a no-op; a busy worker cannot be reset.
func (r *Registry) ResetWorker(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if ok && rec.status == core.StatusBusy {
		r.mu.Unlock()
		return &core.FrameworkError{
			Op:   "registry.ResetWorker",
			Kind: "worker",
			ID:   id,
			Err:  fmt.Errorf("worker is busy: %w", core.ErrInvalidTransition),
		}
	}
	ev, err := r.setStatusLocked("registry.ResetWorker", id, core.StatusIdle, "")
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if ev != nil {
		r.notify(*ev)
	}
	return nil
}

// RecordTaskCompletion folds a finished task into the worker's running
// means. A result whose success field is false counts as a failure.
func (r *Registry) RecordTaskCompletion(id, taskID string, result core.Result, duration time.Duration) error {
	now := r.now()
	outcome := TaskOutcome{
		TaskID:    taskID,
		Success:   result.Succeeded(),
		Duration:  duration,
		Timestamp: now,
	}

	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return &core.FrameworkError{Op: "registry.RecordTaskCompletion", Kind: "worker", ID: id, Err: core.ErrWorkerNotFound}
	}
	rec.observe(outcome, r.cfg.RecentTaskLimit)
	r.mu.Unlock()

	r.notify(Event{
		Type:      EventTaskCompleted,
		WorkerID:  id,
		TaskID:    taskID,
		Success:   outcome.Success,
		Duration:  duration,
		Timestamp: now,
	})
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
