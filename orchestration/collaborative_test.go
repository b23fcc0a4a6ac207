package orchestration

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/registry"
)

func newTestExecutor(t *testing.T, workers map[string]core.Worker) (*Executor, *registry.Registry) {
	t.Helper()
	reg := registry.New(core.DefaultRegistryConfig())
	for id, w := range workers {
		require.NoError(t, reg.Register(id, w))
	}
	exec := NewExecutor(reg, core.DefaultExecutionConfig(),
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(noop.NewMeterProvider()),
	)
	return exec, reg
}

func runSession(t *testing.T, exec *Executor, agents []string, maxIterations int) (*CollaborativeResult, error) {
	t.Helper()
	strategy := CollaborativeSession{Agents: agents, Opts: Options{MaxIterations: maxIterations}}
	res, err := exec.ExecuteStrategy(context.Background(), strategy, "t", &core.Task{ID: "t", Description: "design the cache"}, nil)
	if err != nil {
		return nil, err
	}
	return res.(*CollaborativeResult), nil
}

func TestCollaborativeConvergesWhenResultsStopChanging(t *testing.T) {
	stable := func(out string) *scriptedWorker {
		return &scriptedWorker{fn: func(context.Context, *core.Task, int) (core.Result, error) {
			return core.Result{"output": out}, nil
		}}
	}
	exec, _ := newTestExecutor(t, map[string]core.Worker{
		"a": stable("use an LRU cache"),
		"b": stable("use a write-through cache"),
	})

	res, err := runSession(t, exec, []string{"a", "b"}, 5)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Iterations())
	assert.Nil(t, res.Rounds[0].Verdict, "the first round has nothing to compare")
	require.NotNil(t, res.Rounds[1].Verdict)
	assert.Equal(t, 2, res.Rounds[1].Verdict.Compared)
	assert.NotEmpty(t, res.SessionID)
}

func TestCollaborativeConvergesAfterSettling(t *testing.T) {
	settling := func(draft, final string) *scriptedWorker {
		return &scriptedWorker{fn: func(_ context.Context, task *core.Task, _ int) (core.Result, error) {
			if task.Collaboration.Round == 1 {
				return core.Result{"output": draft}, nil
			}
			return core.Result{"output": final}, nil
		}}
	}
	exec, _ := newTestExecutor(t, map[string]core.Worker{
		"a": settling("xxxxxxxx", "shard by tenant"),
		"b": settling("yyyyyyyy", "shard by region"),
	})

	res, err := runSession(t, exec, []string{"a", "b"}, 5)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 3, res.Iterations(), "round 2 differs from round 1, round 3 matches round 2")
	assert.False(t, res.Rounds[1].Verdict.Converged)
}

func TestCollaborativeNeverExceedsMaxIterations(t *testing.T) {
	churning := &scriptedWorker{fn: func(_ context.Context, task *core.Task, _ int) (core.Result, error) {
		letter := string(rune('a' + task.Collaboration.Round))
		return core.Result{"output": strings.Repeat(letter, 10)}, nil
	}}
	exec, _ := newTestExecutor(t, map[string]core.Worker{"a": churning})

	res, err := runSession(t, exec, []string{"a"}, 3)
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Iterations())
	assert.Equal(t, 3, churning.Calls())
	assert.Equal(t, 3, churning.Task(0).Collaboration.MaxIterations)
}

func TestCollaborativeDefaultMaxIterations(t *testing.T) {
	churning := &scriptedWorker{fn: func(_ context.Context, task *core.Task, _ int) (core.Result, error) {
		return core.Result{"confidence": float64(task.Collaboration.Round) / 5}, nil
	}}
	exec, _ := newTestExecutor(t, map[string]core.Worker{"a": churning})

	res, err := runSession(t, exec, []string{"a"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Iterations())
}

func TestCollaborativeSharedContextAndFailures(t *testing.T) {
	writer := &scriptedWorker{fn: func(_ context.Context, task *core.Task, _ int) (core.Result, error) {
		return core.Result{
			"output":         "notes",
			"shared_updates": map[string]interface{}{"round_seen": task.Collaboration.Round},
		}, nil
	}}
	flaky := &scriptedWorker{fn: func(_ context.Context, task *core.Task, call int) (core.Result, error) {
		if call == 1 {
			return nil, errBoom
		}
		return core.Result{"output": "notes"}, nil
	}}
	exec, reg := newTestExecutor(t, map[string]core.Worker{"writer": writer, "flaky": flaky})

	res, err := runSession(t, exec, []string{"writer", "flaky", "ghost"}, 4)
	require.NoError(t, err)

	require.Len(t, res.Rounds[0].Failures, 1)
	assert.Equal(t, "flaky", res.Rounds[0].Failures[0].WorkerID)
	assert.Len(t, res.Rounds[0].Contributions, 1)
	assert.Equal(t, []string{"ghost"}, res.Skipped, "unknown workers are reported once")

	assert.GreaterOrEqual(t, flaky.Calls(), 2, "a failed collaborator rejoins the next round")
	second := flaky.Task(1)
	assert.Equal(t, 2, second.Collaboration.Round)
	assert.Equal(t, 2, second.Collaboration.SharedContext["round_seen"], "updates from earlier in the round are visible")
	require.Len(t, second.Collaboration.PreviousRound, 1)
	assert.Equal(t, "writer", second.Collaboration.PreviousRound[0].WorkerID)

	assert.Equal(t, res.Iterations(), res.SharedContext["round_seen"])

	info, ok := reg.Get("flaky")
	require.True(t, ok)
	assert.Equal(t, core.StatusIdle, info.Status)
}

func TestCollaborativeAllFailed(t *testing.T) {
	exec, _ := newTestExecutor(t, map[string]core.Worker{"a": failing(errBoom), "b": failing(errBoom)})

	_, err := runSession(t, exec, []string{"a", "b"}, 2)
	require.Error(t, err)
	assert.True(t, core.IsAggregate(err))

	var agg *core.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 4, "two workers over two rounds")
}

func TestCollaborativeConsensusSummary(t *testing.T) {
	fixed := func(r core.Result) *scriptedWorker {
		return &scriptedWorker{fn: func(context.Context, *core.Task, int) (core.Result, error) {
			return r, nil
		}}
	}
	exec, _ := newTestExecutor(t, map[string]core.Worker{
		"a": fixed(core.Result{"confidence": 0.6, "output": "a"}),
		"b": fixed(core.Result{"confidence": 0.9, "output": "b"}),
		"c": fixed(core.Result{"output": "c"}),
	})

	res, err := runSession(t, exec, []string{"a", "b", "c"}, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Consensus.Participants)
	assert.InDelta(t, 0.5, res.Consensus.MeanConfidence, 1e-9)
	assert.Equal(t, "b", res.Consensus.Representative.WorkerID)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name           string
		contributions  []core.Contribution
		participants   int
		mean           float64
		representative string
	}{
		{"empty", nil, 0, 0, ""},
		{
			name: "first highest wins",
			contributions: []core.Contribution{
				{WorkerID: "a", Result: core.Result{"confidence": 0.7}},
				{WorkerID: "b", Result: core.Result{"confidence": 0.7}},
			},
			participants:   2,
			mean:           0.7,
			representative: "a",
		},
		{
			name: "no confidences",
			contributions: []core.Contribution{
				{WorkerID: "a", Result: core.Result{}},
				{WorkerID: "b", Result: core.Result{}},
			},
			participants:   2,
			mean:           0,
			representative: "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := summarize(tt.contributions)
			assert.Equal(t, tt.participants, c.Participants)
			assert.InDelta(t, tt.mean, c.MeanConfidence, 1e-9)
			assert.Equal(t, tt.representative, c.Representative.WorkerID, fmt.Sprintf("%+v", c))
		})
	}
}
