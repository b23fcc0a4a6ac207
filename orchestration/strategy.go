package orchestration

import (
	"fmt"
	"strings"
	"time"

	"github.com/itsneelabh/workforce/core"
)

// Kind tags a strategy and the result it produces.
type Kind string

const (
	KindSingle        Kind = "single"
	KindPipeline      Kind = "pipeline"
	KindConsensus     Kind = "consensus_ensemble"
	KindCollaborative Kind = "collaborative_session"
	KindParallel      Kind = "parallel_execution"
	KindFallback      Kind = "cascading_fallback"
)

// Kinds lists every strategy kind.
var Kinds = []Kind{KindSingle, KindPipeline, KindConsensus, KindCollaborative, KindParallel, KindFallback}

// ParseKind maps a tag to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, core.ErrUnknownStrategy)
}

// Options are the strategy-scoped settings. Zero values mean "use the
// executor default".
type Options struct {
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	StepTimeout   time.Duration `json:"step_timeout,omitempty" yaml:"stepTimeout,omitempty"`
	AgentTimeout  time.Duration `json:"agent_timeout,omitempty" yaml:"agentTimeout,omitempty"`
	MaxIterations int           `json:"max_iterations,omitempty" yaml:"maxIterations,omitempty"`
}

// override returns o with every non-zero field of call applied on top.
func (o Options) override(call *Options) Options {
	if call == nil {
		return o
	}
	if call.Timeout > 0 {
		o.Timeout = call.Timeout
	}
	if call.StepTimeout > 0 {
		o.StepTimeout = call.StepTimeout
	}
	if call.AgentTimeout > 0 {
		o.AgentTimeout = call.AgentTimeout
	}
	if call.MaxIterations > 0 {
		o.MaxIterations = call.MaxIterations
	}
	return o
}

// Strategy is a closed set: Single, Pipeline, ConsensusEnsemble,
// CollaborativeSession, ParallelExecution and CascadingFallback.
type Strategy interface {
	Kind() Kind
	// Workers returns the targeted worker ids in descriptor order.
	Workers() []string
	Options() Options
	validate() error
	sealed()
}

// Single runs one named worker.
type Single struct {
	Agent string
	Opts  Options
}

// Pipeline runs workers in order, feeding each step the previous output.
type Pipeline struct {
	Agents []string
	Opts   Options
}

// ConsensusEnsemble runs every worker concurrently and returns all outcomes.
type ConsensusEnsemble struct {
	Agents []string
	Opts   Options
}

// CollaborativeSession runs the cohort in rounds until the results stop
// changing or the round cap is reached.
type CollaborativeSession struct {
	Agents []string
	Opts   Options
}

// ParallelExecution runs every worker concurrently and reports outcomes by
// position.
type ParallelExecution struct {
	Agents []string
	Opts   Options
}

// CascadingFallback tries workers in order until one succeeds.
type CascadingFallback struct {
	Agents []string
	Opts   Options
}

func (Single) Kind() Kind               { return KindSingle }
func (Pipeline) Kind() Kind             { return KindPipeline }
func (ConsensusEnsemble) Kind() Kind    { return KindConsensus }
func (CollaborativeSession) Kind() Kind { return KindCollaborative }
func (ParallelExecution) Kind() Kind    { return KindParallel }
func (CascadingFallback) Kind() Kind    { return KindFallback }

func (s Single) Workers() []string               { return []string{s.Agent} }
func (s Pipeline) Workers() []string             { return append([]string(nil), s.Agents...) }
func (s ConsensusEnsemble) Workers() []string    { return append([]string(nil), s.Agents...) }
func (s CollaborativeSession) Workers() []string { return append([]string(nil), s.Agents...) }
func (s ParallelExecution) Workers() []string    { return append([]string(nil), s.Agents...) }
func (s CascadingFallback) Workers() []string    { return append([]string(nil), s.Agents...) }

func (s Single) Options() Options               { return s.Opts }
func (s Pipeline) Options() Options             { return s.Opts }
func (s ConsensusEnsemble) Options() Options    { return s.Opts }
func (s CollaborativeSession) Options() Options { return s.Opts }
func (s ParallelExecution) Options() Options    { return s.Opts }
func (s CascadingFallback) Options() Options    { return s.Opts }

func (Single) sealed()               {}
func (Pipeline) sealed()             {}
func (ConsensusEnsemble) sealed()    {}
func (CollaborativeSession) sealed() {}
func (ParallelExecution) sealed()    {}
func (CascadingFallback) sealed()    {}

func (s Single) validate() error {
	if strings.TrimSpace(s.Agent) == "" {
		return fmt.Errorf("single strategy needs an agent: %w", core.ErrInvalidStrategy)
	}
	return validateOptions(s.Opts)
}

func (s Pipeline) validate() error             { return validateList(KindPipeline, s.Agents, s.Opts) }
func (s ConsensusEnsemble) validate() error    { return validateList(KindConsensus, s.Agents, s.Opts) }
func (s CollaborativeSession) validate() error { return validateList(KindCollaborative, s.Agents, s.Opts) }
func (s ParallelExecution) validate() error    { return validateList(KindParallel, s.Agents, s.Opts) }
func (s CascadingFallback) validate() error    { return validateList(KindFallback, s.Agents, s.Opts) }

func validateList(kind Kind, agents []string, opts Options) error {
	if len(agents) == 0 {
		return fmt.Errorf("%s strategy needs at least one agent: %w", kind, core.ErrInvalidStrategy)
	}
	for i, a := range agents {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("%s strategy: agent %d is empty: %w", kind, i, core.ErrInvalidStrategy)
		}
	}
	return validateOptions(opts)
}

func validateOptions(o Options) error {
	if o.Timeout < 0 || o.StepTimeout < 0 || o.AgentTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative: %w", core.ErrInvalidStrategy)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("max iterations must not be negative: %w", core.ErrInvalidStrategy)
	}
	return nil
}

// NewStrategy builds the strategy for kind. Single takes exactly one agent.
func NewStrategy(kind Kind, agents []string, opts Options) (Strategy, error) {
	var s Strategy
	switch kind {
	case KindSingle:
		if len(agents) != 1 {
			return nil, fmt.Errorf("single strategy takes exactly one agent, got %d: %w", len(agents), core.ErrInvalidStrategy)
		}
		s = Single{Agent: agents[0], Opts: opts}
	case KindPipeline:
		s = Pipeline{Agents: agents, Opts: opts}
	case KindConsensus:
		s = ConsensusEnsemble{Agents: agents, Opts: opts}
	case KindCollaborative:
		s = CollaborativeSession{Agents: agents, Opts: opts}
	case KindParallel:
		s = ParallelExecution{Agents: agents, Opts: opts}
	case KindFallback:
		s = CascadingFallback{Agents: agents, Opts: opts}
	default:
		return nil, fmt.Errorf("%q: %w", kind, core.ErrUnknownStrategy)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}
