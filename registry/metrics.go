package registry

import (
	"fmt"
	"time"

	"github.com/itsneelabh/workforce/core"
)

// PerformanceSnapshot combines a worker's running means with simple
// averages over its recent-task ring buffer.
type PerformanceSnapshot struct {
	WorkerID       string        `json:"worker_id"`
	Status         core.Status   `json:"status"`
	TaskCount      int           `json:"task_count"`
	AverageLatency time.Duration `json:"average_latency"`
	SuccessRate    float64       `json:"success_rate"`

	RecentTaskCount      int           `json:"recent_task_count"`
	RecentAverageLatency time.Duration `json:"recent_average_latency"`
	RecentSuccessRate    float64       `json:"recent_success_rate"`

	LastActivity time.Time `json:"last_activity"`
}

func (rec *record) performance() PerformanceSnapshot {
	s := PerformanceSnapshot{
		WorkerID:          rec.id,
		Status:            rec.status,
		TaskCount:         rec.taskCount,
		AverageLatency:    rec.averageLatency(),
		SuccessRate:       rec.successRate,
		RecentTaskCount:   len(rec.recent),
		RecentSuccessRate: 1.0,
		LastActivity:      rec.lastActivity,
	}
	if len(rec.recent) == 0 {
		return s
	}

	var total time.Duration
	succeeded := 0
	for _, o := range rec.recent {
		total += o.Duration
		if o.Success {
			succeeded++
		}
	}
	s.RecentAverageLatency = total / time.Duration(len(rec.recent))
	s.RecentSuccessRate = float64(succeeded) / float64(len(rec.recent))
	return s
}

// GetPerformanceMetrics returns the snapshot for one worker.
func (r *Registry) GetPerformanceMetrics(id string) (PerformanceSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return PerformanceSnapshot{}, &core.FrameworkError{
			Op:   "registry.GetPerformanceMetrics",
			Kind: "worker",
			ID:   id,
			Err:  core.ErrWorkerNotFound,
		}
	}
	return rec.performance(), nil
}

// GetAllPerformanceMetrics returns a snapshot per worker in registration order.
func (r *Registry) GetAllPerformanceMetrics() []PerformanceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PerformanceSnapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].performance())
	}
	return out
}

// HealthLevel is the registry-wide health tier.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

const (
	healthyRatio = 0.8
	warningRatio = 0.6
)

var recommendations = map[HealthLevel]string{
	HealthHealthy:  "All workers are operating within thresholds",
	HealthWarning:  "Some workers are underperforming; review their recent failures and latency",
	HealthCritical: "Most workers are unhealthy; investigate failing workers and add capacity",
}

const emptyPoolRecommendation = "No workers are registered; register workers before submitting tasks"

// HealthReport summarizes how many workers meet both the success-rate and
// latency thresholds.
type HealthReport struct {
	Status          HealthLevel `json:"status"`
	HealthyWorkers  int         `json:"healthy_workers"`
	TotalWorkers    int         `json:"total_workers"`
	HealthyRatio    float64     `json:"healthy_ratio"`
	Recommendations []string    `json:"recommendations"`
}

// RegistryStatus is the full status report of the pool.
type RegistryStatus struct {
	TotalWorkers     int                   `json:"total_workers"`
	AvailableWorkers int                   `json:"available_workers"`
	BusyWorkers      int                   `json:"busy_workers"`
	ErrorWorkers     int                   `json:"error_workers"`
	Health           HealthReport          `json:"health"`
	Workers          []PerformanceSnapshot `json:"workers"`
	Timestamp        time.Time             `json:"timestamp"`
}

func (r *Registry) healthy(rec *record) bool {
	return rec.successRate >= r.cfg.SuccessRateThreshold &&
		rec.averageLatency() < r.cfg.LatencyThreshold
}

// healthLocked must be called with r.mu held.
func (r *Registry) healthLocked() HealthReport {
	report := HealthReport{TotalWorkers: len(r.records)}
	if report.TotalWorkers == 0 {
		report.Status = HealthCritical
		report.Recommendations = []string{emptyPoolRecommendation}
		return report
	}

	for _, rec := range r.records {
		if r.healthy(rec) {
			report.HealthyWorkers++
		}
	}
	report.HealthyRatio = float64(report.HealthyWorkers) / float64(report.TotalWorkers)

	switch {
	case report.HealthyRatio >= healthyRatio:
		report.Status = HealthHealthy
	case report.HealthyRatio >= warningRatio:
		report.Status = HealthWarning
	default:
		report.Status = HealthCritical
	}
	report.Recommendations = []string{recommendations[report.Status]}
	if report.Status != HealthHealthy {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d of %d workers below %.0f%% success rate or above %s latency",
				report.TotalWorkers-report.HealthyWorkers, report.TotalWorkers,
				r.cfg.SuccessRateThreshold*100, r.cfg.LatencyThreshold))
	}
	return report
}

// HealthCheck returns the health report alone.
func (r *Registry) HealthCheck() HealthReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthLocked()
}

// GetRegistryStatus returns counts per status, the health report and a
// performance snapshot of every worker.
func (r *Registry) GetRegistryStatus() RegistryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RegistryStatus{
		TotalWorkers: len(r.records),
		Health:       r.healthLocked(),
		Workers:      make([]PerformanceSnapshot, 0, len(r.order)),
		Timestamp:    r.now(),
	}
	for _, id := range r.order {
		rec := r.records[id]
		switch rec.status {
		case core.StatusIdle:
			st.AvailableWorkers++
		case core.StatusBusy:
			st.BusyWorkers++
		case core.StatusError:
			st.ErrorWorkers++
		}
		st.Workers = append(st.Workers, rec.performance())
	}
	return st
}
