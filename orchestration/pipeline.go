package orchestration

import (
	"context"

	"github.com/itsneelabh/workforce/core"
)

// pipeline runs the agents in order. Step i receives the original input
// overlaid with step i-1's result, plus every earlier result. The first
// failure stops the pipeline; later steps are never invoked.
func (x *execution) pipeline(ctx context.Context, s Pipeline) (*PipelineResult, error) {
	total := len(s.Agents)
	res := &PipelineResult{Meta: x.meta, Steps: make([]StepResult, 0, total)}
	previous := make([]core.Result, 0, total)

	for i, id := range s.Agents {
		step := i + 1
		t := x.task.Clone()
		if n := len(previous); n > 0 {
			t.Input = previous[n-1].Merge(x.task.Input)
		}
		t.Pipeline = &core.PipelineContext{
			Step:            step,
			TotalSteps:      total,
			PreviousResults: append([]core.Result(nil), previous...),
		}

		x.logger.Debug("Running pipeline step", map[string]interface{}{
			"execution_id": x.meta.ID,
			"step":         step,
			"total_steps":  total,
			"worker_id":    id,
		})

		a := x.invoke(ctx, id, t)
		if a.err != nil {
			return nil, &core.StepError{Step: step, WorkerID: id, Err: a.err}
		}

		res.Steps = append(res.Steps, StepResult{Step: step, WorkerID: id, Result: a.result, Duration: a.duration})
		previous = append(previous, a.result)
	}

	res.Final = previous[len(previous)-1]
	return res, nil
}
