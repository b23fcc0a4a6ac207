package orchestration

import (
	"encoding/json"
	"time"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/similarity"
)

// ExecutionResult is the closed set of strategy results: SingleResult,
// PipelineResult, ConsensusResult, CollaborativeResult, ParallelResult and
// FallbackResult. Switch on the concrete type to read the details.
type ExecutionResult interface {
	Kind() Kind
	Elapsed() time.Duration
	ExecutionID() string
	finish(elapsed time.Duration)
}

// Meta is embedded in every result.
type Meta struct {
	ID        string        `json:"execution_id"`
	Strategy  Kind          `json:"strategy"`
	TaskID    string        `json:"task_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func (m *Meta) Kind() Kind                   { return m.Strategy }
func (m *Meta) Elapsed() time.Duration       { return m.Duration }
func (m *Meta) ExecutionID() string          { return m.ID }
func (m *Meta) finish(elapsed time.Duration) { m.Duration = elapsed }

// Outcome is the settled result of one worker invocation. Exactly one of
// Result and Err is meaningful.
type Outcome struct {
	WorkerID string
	Index    int
	Result   core.Result
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the invocation produced a result.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// MarshalJSON renders Err as its message.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		WorkerID string        `json:"worker_id"`
		Index    int           `json:"index"`
		Success  bool          `json:"success"`
		Result   core.Result   `json:"result,omitempty"`
		Error    string        `json:"error,omitempty"`
		Duration time.Duration `json:"duration"`
	}{
		WorkerID: o.WorkerID,
		Index:    o.Index,
		Success:  o.Succeeded(),
		Result:   o.Result,
		Duration: o.Duration,
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// SingleResult is returned by Single.
type SingleResult struct {
	Meta
	WorkerID string        `json:"worker_id"`
	Result   core.Result   `json:"result"`
	Latency  time.Duration `json:"latency"`
}

// StepResult is one completed pipeline step; Step is 1-based.
type StepResult struct {
	Step     int           `json:"step"`
	WorkerID string        `json:"worker_id"`
	Result   core.Result   `json:"result"`
	Duration time.Duration `json:"duration"`
}

// PipelineResult is returned by Pipeline.
type PipelineResult struct {
	Meta
	Steps []StepResult `json:"steps"`
	Final core.Result  `json:"final"`
}

// ConsensusResult is returned by ConsensusEnsemble. Results holds every
// invoked worker in descriptor order; combining them is up to the caller.
type ConsensusResult struct {
	Meta
	Results           []Outcome `json:"results"`
	SuccessfulResults []Outcome `json:"successful_results"`
	Skipped           []string  `json:"skipped,omitempty"`
}

// Round is one completed collaborative round.
type Round struct {
	Number        int                 `json:"number"`
	Contributions []core.Contribution `json:"contributions"`
	Failures      []Outcome           `json:"failures,omitempty"`
	// Verdict is nil for the first round, which has nothing to compare.
	Verdict *similarity.Verdict `json:"verdict,omitempty"`
}

// Consensus summarizes the last completed round of a session.
type Consensus struct {
	Participants   int               `json:"participants"`
	MeanConfidence float64           `json:"mean_confidence"`
	Representative core.Contribution `json:"representative"`
}

// CollaborativeResult is returned by CollaborativeSession.
type CollaborativeResult struct {
	Meta
	SessionID     string                 `json:"session_id"`
	Rounds        []Round                `json:"rounds"`
	Converged     bool                   `json:"converged"`
	SharedContext map[string]interface{} `json:"shared_context"`
	Consensus     Consensus              `json:"consensus"`
	Skipped       []string               `json:"skipped,omitempty"`
}

// Iterations is the number of rounds that ran.
func (r *CollaborativeResult) Iterations() int {
	return len(r.Rounds)
}

// ParallelResult is returned by ParallelExecution. Results[i] belongs to
// the i-th listed worker.
type ParallelResult struct {
	Meta
	Results   []Outcome `json:"results"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// FallbackResult is returned by CascadingFallback. AttemptChain lists the
// workers actually invoked, ending with SuccessfulAgent; skipped workers are
// not part of it.
type FallbackResult struct {
	Meta
	SuccessfulAgent string      `json:"successful_agent"`
	Result          core.Result `json:"result"`
	AttemptChain    []string    `json:"attempt_chain"`
	Failures        []Outcome   `json:"failures,omitempty"`
	Skipped         []string    `json:"skipped,omitempty"`
}
