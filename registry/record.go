package registry

import (
	"time"

	"github.com/itsneelabh/workforce/core"
)

// TaskOutcome is one entry of a worker's recent-task ring buffer.
type TaskOutcome struct {
	TaskID    string        `json:"task_id"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// StatusChange is one entry of a worker's status history.
type StatusChange struct {
	From   core.Status `json:"from"`
	To     core.Status `json:"to"`
	TaskID string      `json:"task_id,omitempty"`
	At     time.Time   `json:"at"`
}

// Performance holds the running means and recent outcomes of a worker.
type Performance struct {
	TaskCount      int           `json:"task_count"`
	AverageLatency time.Duration `json:"average_latency"`
	SuccessRate    float64       `json:"success_rate"`
	RecentTasks    []TaskOutcome `json:"recent_tasks"`
}

// WorkerInfo is a point-in-time copy of a worker record. Mutating it has no
// effect on the registry.
type WorkerInfo struct {
	ID             string         `json:"id"`
	Status         core.Status    `json:"status"`
	PreviousStatus core.Status    `json:"previous_status,omitempty"`
	CurrentTask    string         `json:"current_task,omitempty"`
	Capabilities   []string       `json:"capabilities"`
	Specialties    []string       `json:"specialties"`
	Priority       int            `json:"priority"`
	RegisteredAt   time.Time      `json:"registered_at"`
	LastActivity   time.Time      `json:"last_activity"`
	Performance    Performance    `json:"performance"`
	StatusHistory  []StatusChange `json:"status_history,omitempty"`
}

// record is the registry-owned mutable state of one worker. Guarded by
// Registry.mu.
type record struct {
	id       string
	gen      uint64
	worker   core.Worker
	profile  core.Profile
	status   core.Status
	previous core.Status
	task     string

	registeredAt time.Time
	lastActivity time.Time

	taskCount   int
	meanLatency float64 // nanoseconds, kept as float to avoid truncation drift
	successRate float64
	recent      []TaskOutcome
	history     []StatusChange
}

func newRecord(id string, w core.Worker, defaultPriority int, now time.Time) *record {
	p := w.Profile()
	if p.Priority <= 0 {
		p.Priority = defaultPriority
	}
	p.Capabilities = append([]string(nil), p.Capabilities...)
	p.Specialties = append([]string(nil), p.Specialties...)

	return &record{
		id:           id,
		worker:       w,
		profile:      p,
		status:       core.StatusIdle,
		registeredAt: now,
		lastActivity: now,
		successRate:  1.0,
	}
}

func (r *record) averageLatency() time.Duration {
	return time.Duration(r.meanLatency)
}

// observe folds one completed task into the running means and ring buffer.
func (r *record) observe(outcome TaskOutcome, limit int) {
	r.taskCount++
	n := float64(r.taskCount)

	success := 0.0
	if outcome.Success {
		success = 1.0
	}
	r.meanLatency = (r.meanLatency*(n-1) + float64(outcome.Duration)) / n
	r.successRate = (r.successRate*(n-1) + success) / n

	r.recent = append(r.recent, outcome)
	if limit > 0 && len(r.recent) > limit {
		r.recent = append([]TaskOutcome(nil), r.recent[len(r.recent)-limit:]...)
	}
}

func (r *record) snapshot() WorkerInfo {
	return WorkerInfo{
		ID:             r.id,
		Status:         r.status,
		PreviousStatus: r.previous,
		CurrentTask:    r.task,
		Capabilities:   append([]string(nil), r.profile.Capabilities...),
		Specialties:    append([]string(nil), r.profile.Specialties...),
		Priority:       r.profile.Priority,
		RegisteredAt:   r.registeredAt,
		LastActivity:   r.lastActivity,
		Performance: Performance{
			TaskCount:      r.taskCount,
			AverageLatency: r.averageLatency(),
			SuccessRate:    r.successRate,
			RecentTasks:    append([]TaskOutcome(nil), r.recent...),
		},
		StatusHistory: append([]StatusChange(nil), r.history...),
	}
}
