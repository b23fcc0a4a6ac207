package core

import (
	"context"
)

// Status is the lifecycle state of a pooled worker. A worker holds exactly
// one status at a time and only the registry changes it.
type Status string

const (
	StatusIdle  Status = "idle"
	StatusBusy  Status = "busy"
	StatusError Status = "error"
)

// Worker is an externally supplied unit of work. The context passed to
// Execute carries the per-call deadline; well-behaved workers stop when it
// is done, but the orchestrator never relies on that.
type Worker interface {
	Execute(ctx context.Context, task *Task) (Result, error)
	Profile() Profile
}

// Profile is the static metadata a worker declares at registration.
type Profile struct {
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Specialties  []string `json:"specialties" yaml:"specialties"`
	// Priority is 1..n, higher wins; zero means the registry default.
	Priority int `json:"priority" yaml:"priority"`
}

// WorkerFunc adapts a plain function into a Worker.
type WorkerFunc struct {
	Fn   func(ctx context.Context, task *Task) (Result, error)
	Meta Profile
}

func (w WorkerFunc) Execute(ctx context.Context, task *Task) (Result, error) {
	return w.Fn(ctx, task)
}

func (w WorkerFunc) Profile() Profile {
	return w.Meta
}

// Lease is one acquisition of a pooled worker. It is valid only for the
// registration it was taken from; re-registering the id invalidates it.
type Lease struct {
	WorkerID   string
	Generation uint64
	Worker     Worker
}

// Task is the caller-supplied unit of work. Tasks are ephemeral: the
// orchestrator clones them per invocation and never stores them.
type Task struct {
	ID           string                 `json:"id" yaml:"id"`
	Description  string                 `json:"description" yaml:"description"`
	Type         string                 `json:"type,omitempty" yaml:"type,omitempty"`
	Requirements []string               `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Input        map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`

	// Strategy context, set by the executor for the topology in use.
	Pipeline      *PipelineContext      `json:"pipeline,omitempty" yaml:"-"`
	Collaboration *CollaborationContext `json:"collaboration,omitempty" yaml:"-"`
	Parallel      *ParallelContext      `json:"parallel,omitempty" yaml:"-"`
}

// Clone returns a copy whose Input map can be modified independently.
func (t *Task) Clone() *Task {
	if t == nil {
		return &Task{Input: map[string]interface{}{}}
	}
	c := *t
	c.Requirements = append([]string(nil), t.Requirements...)
	c.Input = make(map[string]interface{}, len(t.Input))
	for k, v := range t.Input {
		c.Input[k] = v
	}
	return &c
}

// PipelineContext is attached to every pipeline step.
type PipelineContext struct {
	Step            int      `json:"step"`
	TotalSteps      int      `json:"total_steps"`
	PreviousResults []Result `json:"previous_results"`
}

// Contribution is one worker's output within a collaborative round.
type Contribution struct {
	WorkerID string `json:"worker_id"`
	Result   Result `json:"result"`
}

// CollaborationContext is attached to every collaborative-session call.
type CollaborationContext struct {
	SessionID     string                 `json:"session_id"`
	Round         int                    `json:"round"`
	MaxIterations int                    `json:"max_iterations"`
	SharedContext map[string]interface{} `json:"shared_context"`
	PreviousRound []Contribution         `json:"previous_round,omitempty"`
}

// ParallelContext carries the worker's position in a parallel fan-out.
type ParallelContext struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// Result keys understood by the orchestrator. Workers may add anything else.
const (
	ResultKeySuccess       = "success"
	ResultKeyConfidence    = "confidence"
	ResultKeyOutput        = "output"
	ResultKeySharedUpdates = "shared_updates"
	ResultKeyError         = "error"

	// ResultKeySharedUpdatesCamel is accepted as an alias of
	// ResultKeySharedUpdates.
	ResultKeySharedUpdatesCamel = "sharedUpdates"
)

// Result is the free-form value a worker returns.
type Result map[string]interface{}

// Succeeded is false only when the result explicitly sets success to false.
func (r Result) Succeeded() bool {
	v, ok := r[ResultKeySuccess]
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// Confidence returns the numeric confidence score, if present.
func (r Result) Confidence() (float64, bool) {
	switch v := r[ResultKeyConfidence].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Output returns the textual output, if present.
func (r Result) Output() (string, bool) {
	s, ok := r[ResultKeyOutput].(string)
	return s, ok
}

// SharedUpdates returns the entries a collaborating worker wants merged into
// the session's shared context.
func (r Result) SharedUpdates() map[string]interface{} {
	snake, hasSnake := r[ResultKeySharedUpdates].(map[string]interface{})
	camel, hasCamel := r[ResultKeySharedUpdatesCamel].(map[string]interface{})
	switch {
	case hasSnake && hasCamel:
		// snake_case wins on conflicting keys
		return Result(snake).Merge(camel)
	case hasSnake:
		return snake
	case hasCamel:
		return camel
	}
	return nil
}

// Merge returns a new map holding base overlaid with r.
func (r Result) Merge(base map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(r))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range r {
		out[k] = v
	}
	return out
}
