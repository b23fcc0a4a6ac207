package orchestration

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/workforce/core"
)

// fanOut invokes every agent concurrently, at most MaxConcurrency at a
// time, and waits for all of them. attempts[i] belongs to agents[i].
func (x *execution) fanOut(ctx context.Context, agents []string, taskFor func(i int) *core.Task) []attempt {
	attempts := make([]attempt, len(agents))

	var g errgroup.Group
	g.SetLimit(x.cfg.MaxConcurrency)
	for i, id := range agents {
		i, id := i, id
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					attempts[i] = attempt{workerID: id, err: fmt.Errorf("%w: %v", core.ErrWorkerPanic, r)}
				}
			}()
			attempts[i] = x.invoke(ctx, id, taskFor(i))
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

// consensus invokes every listed worker and waits for all to settle. Ids
// missing from the pool are skipped with a warning. It fails only when no
// invocation succeeded.
func (x *execution) consensus(ctx context.Context, s ConsensusEnsemble) (*ConsensusResult, error) {
	attempts := x.fanOut(ctx, s.Agents, func(int) *core.Task { return x.task.Clone() })

	res := &ConsensusResult{Meta: x.meta}
	var errs []error
	for i, a := range attempts {
		if !a.invoked && core.IsNotFound(a.err) {
			x.logger.Warn("Skipping unknown worker", map[string]interface{}{
				"worker_id":    a.workerID,
				"execution_id": x.meta.ID,
				"strategy":     string(KindConsensus),
			})
			res.Skipped = append(res.Skipped, a.workerID)
			errs = append(errs, a.err)
			continue
		}
		o := a.outcome(i)
		res.Results = append(res.Results, o)
		if o.Succeeded() {
			res.SuccessfulResults = append(res.SuccessfulResults, o)
		} else {
			errs = append(errs, fmt.Errorf("%s: %w", a.workerID, a.err))
		}
	}

	if len(res.SuccessfulResults) == 0 {
		return nil, &core.AggregateError{Op: "orchestration.consensus_ensemble", Errors: errs}
	}
	if failed := len(res.Results) - len(res.SuccessfulResults); failed > 0 {
		x.logger.Warn("Consensus ensemble finished with partial failure", map[string]interface{}{
			"execution_id": x.meta.ID,
			"succeeded":    len(res.SuccessfulResults),
			"failed":       failed,
		})
	}
	return res, nil
}

// parallel invokes every listed worker and reports each outcome at the
// worker's position. It never fails on worker errors; a missing id is a
// failed outcome at its position.
func (x *execution) parallel(ctx context.Context, s ParallelExecution) (*ParallelResult, error) {
	total := len(s.Agents)
	attempts := x.fanOut(ctx, s.Agents, func(i int) *core.Task {
		t := x.task.Clone()
		t.Parallel = &core.ParallelContext{Index: i, Total: total}
		return t
	})

	res := &ParallelResult{Meta: x.meta, Results: make([]Outcome, total)}
	for i, a := range attempts {
		res.Results[i] = a.outcome(i)
		if a.err == nil {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	if res.Failed > 0 {
		x.logger.Warn("Parallel execution finished with failures", map[string]interface{}{
			"execution_id": x.meta.ID,
			"succeeded":    res.Succeeded,
			"failed":       res.Failed,
		})
	}
	return res, nil
}
