package orchestration

import (
	"context"
	"fmt"

	"github.com/itsneelabh/workforce/core"
)

// fallback tries the agents strictly in order and stops at the first
// success. Missing or non-idle workers are skipped without counting as a
// failure.
func (x *execution) fallback(ctx context.Context, s CascadingFallback) (*FallbackResult, error) {
	res := &FallbackResult{Meta: x.meta}
	var errs []error

	for i, id := range s.Agents {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		a := x.invoke(ctx, id, x.task.Clone())
		if !a.invoked {
			x.logger.Warn("Skipping worker in fallback chain", map[string]interface{}{
				"worker_id":    id,
				"execution_id": x.meta.ID,
				"reason":       a.err.Error(),
			})
			res.Skipped = append(res.Skipped, id)
			continue
		}

		res.AttemptChain = append(res.AttemptChain, id)
		if a.err != nil {
			res.Failures = append(res.Failures, a.outcome(i))
			errs = append(errs, fmt.Errorf("%s: %w", id, a.err))
			continue
		}

		res.SuccessfulAgent = id
		res.Result = a.result
		return res, nil
	}

	if len(res.AttemptChain) == 0 {
		errs = append(errs, fmt.Errorf("no worker in the chain was available: %w", core.ErrWorkerUnavailable))
	}
	return nil, &core.AggregateError{Op: "orchestration.cascading_fallback", Errors: errs}
}
