package registry

import (
	"context"
	"time"

	"github.com/itsneelabh/workforce/core"
)

// CleanupReport describes one cleanup sweep.
type CleanupReport struct {
	Evicted          []string `json:"evicted"`
	TrimmedHistories int      `json:"trimmed_histories"`
}

// Cleanup evicts workers that have been in error status since before the
// staleness window and trims status histories to the configured limit.
func (r *Registry) Cleanup() CleanupReport {
	now := r.now()
	cutoff := now.Add(-r.cfg.StaleAfter)

	var report CleanupReport
	r.mu.Lock()
	for _, id := range append([]string(nil), r.order...) {
		rec := r.records[id]
		if rec.status == core.StatusError && rec.lastActivity.Before(cutoff) {
			r.removeLocked(id)
			report.Evicted = append(report.Evicted, id)
			continue
		}
		if limit := r.cfg.HistoryLimit; len(rec.history) > limit {
			rec.history = append([]StatusChange(nil), rec.history[len(rec.history)-limit:]...)
			report.TrimmedHistories++
		}
		if limit := r.cfg.RecentTaskLimit; len(rec.recent) > limit {
			rec.recent = append([]TaskOutcome(nil), rec.recent[len(rec.recent)-limit:]...)
		}
	}
	r.mu.Unlock()

	events := make([]Event, 0, len(report.Evicted))
	for _, id := range report.Evicted {
		events = append(events, Event{Type: EventEvicted, WorkerID: id, From: core.StatusError, Timestamp: now})
	}
	r.notify(events...)

	if len(report.Evicted) > 0 || report.TrimmedHistories > 0 {
		r.logger.Info("Registry cleanup completed", map[string]interface{}{
			"evicted":           len(report.Evicted),
			"trimmed_histories": report.TrimmedHistories,
			"remaining":         r.Len(),
		})
	}
	return report
}

// StartCleanup runs Cleanup every interval until ctx is done. A
// non-positive interval uses the configured cleanup interval. The returned
// channel is closed when the loop exits.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = r.cfg.CleanupInterval
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Registry cleanup loop panicked", map[string]interface{}{
					"panic": p,
				})
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
	return done
}
