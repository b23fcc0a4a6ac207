package orchestration

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/workforce/core"
)

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Strategy
	}{
		{
			name:     "single yaml",
			input:    "type: single\nagent: coder\n",
			expected: Single{Agent: "coder"},
		},
		{
			name: "pipeline with duration strings",
			input: `
type: pipeline
agents: [planner, coder, reviewer]
options:
  stepTimeout: 90s
  timeout: 2m
`,
			expected: Pipeline{
				Agents: []string{"planner", "coder", "reviewer"},
				Opts:   Options{StepTimeout: 90 * time.Second, Timeout: 2 * time.Minute},
			},
		},
		{
			name:  "collaborative json with millisecond options",
			input: `{"type": "collaborative_session", "agents": ["a", "b"], "options": {"agentTimeout": 1500, "maxIterations": 3}}`,
			expected: CollaborativeSession{
				Agents: []string{"a", "b"},
				Opts:   Options{AgentTimeout: 1500 * time.Millisecond, MaxIterations: 3},
			},
		},
		{
			name:     "consensus",
			input:    `{"type": "consensus_ensemble", "agents": ["a", "b", "c"]}`,
			expected: ConsensusEnsemble{Agents: []string{"a", "b", "c"}},
		},
		{
			name:     "parallel",
			input:    "type: parallel_execution\nagents: [a]\n",
			expected: ParallelExecution{Agents: []string{"a"}},
		},
		{
			name:     "fallback",
			input:    "type: cascading_fallback\nagents: [primary, backup]\noptions: {timeout: 500}\n",
			expected: CascadingFallback{Agents: []string{"primary", "backup"}, Opts: Options{Timeout: 500 * time.Millisecond}},
		},
		{
			name:     "single named in agents",
			input:    `{"type": "single", "agents": ["coder"]}`,
			expected: Single{Agent: "coder"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseDescriptor([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, s)
		})
	}
}

func TestParseDescriptorErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		target error
	}{
		{"unknown type", `{"type": "round_robin", "agents": ["a"]}`, core.ErrUnknownStrategy},
		{"missing type", `{"agents": ["a"]}`, core.ErrUnknownStrategy},
		{"no agents", `{"type": "pipeline"}`, core.ErrInvalidStrategy},
		{"single with two agents", `{"type": "single", "agents": ["a", "b"]}`, core.ErrInvalidStrategy},
		{"bad duration", "type: single\nagent: a\noptions: {timeout: soon}\n", core.ErrInvalidStrategy},
		{"negative iterations", "type: collaborative_session\nagents: [a]\noptions: {maxIterations: -1}\n", core.ErrInvalidStrategy},
		{"malformed", "type: [", core.ErrInvalidStrategy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}
