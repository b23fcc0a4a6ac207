package registry

import (
	"time"

	"github.com/itsneelabh/workforce/core"
)

// EventType identifies a registry notification.
type EventType string

const (
	EventRegistered    EventType = "registered"
	EventUnregistered  EventType = "unregistered"
	EventStatusChanged EventType = "status_changed"
	EventTaskCompleted EventType = "task_completed"
	EventEvicted       EventType = "evicted"
)

// Event describes one change to the registry. Fields irrelevant to the
// event type are left zero.
type Event struct {
	Type      EventType     `json:"type"`
	WorkerID  string        `json:"worker_id"`
	TaskID    string        `json:"task_id,omitempty"`
	From      core.Status   `json:"from,omitempty"`
	To        core.Status   `json:"to,omitempty"`
	Success   bool          `json:"success,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Observer receives registry events. Observers run synchronously on the
// goroutine that caused the event, after the registry lock is released,
// so they may call back into the registry.
type Observer interface {
	OnRegistryEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRegistryEvent(e Event) { f(e) }

type subscription struct {
	id       uint64
	observer Observer
}

// Subscribe adds an observer and returns a function that removes it.
func (r *Registry) Subscribe(o Observer) (unsubscribe func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	r.nextSubID++
	id := r.nextSubID
	r.observers = append(r.observers, subscription{id: id, observer: o})

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		for i, s := range r.observers {
			if s.id == id {
				r.observers = append(r.observers[:i], r.observers[i+1:]...)
				return
			}
		}
	}
}

// notify delivers events in order. Must be called without r.mu held.
func (r *Registry) notify(events ...Event) {
	if len(events) == 0 {
		return
	}
	r.obsMu.RLock()
	subs := make([]subscription, len(r.observers))
	copy(subs, r.observers)
	r.obsMu.RUnlock()

	for _, e := range events {
		r.logEvent(e)
		for _, s := range subs {
			s.observer.OnRegistryEvent(e)
		}
	}
}

func (r *Registry) logEvent(e Event) {
	fields := map[string]interface{}{
		"event":     string(e.Type),
		"worker_id": e.WorkerID,
	}
	if e.TaskID != "" {
		fields["task_id"] = e.TaskID
	}

	switch e.Type {
	case EventStatusChanged:
		fields["from"] = string(e.From)
		fields["to"] = string(e.To)
		r.logger.Debug("Worker status changed", fields)
	case EventTaskCompleted:
		fields["success"] = e.Success
		fields["duration_ms"] = e.Duration.Milliseconds()
		r.logger.Debug("Worker task completed", fields)
	case EventEvicted:
		r.logger.Warn("Evicted stale worker", fields)
	default:
		r.logger.Info("Worker registry updated", fields)
	}
}
