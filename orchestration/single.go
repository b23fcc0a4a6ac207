package orchestration

import (
	"context"

	"github.com/itsneelabh/workforce/core"
)

func (x *execution) single(ctx context.Context, s Single) (*SingleResult, error) {
	a := x.invoke(ctx, s.Agent, x.task.Clone())
	if a.err != nil {
		return nil, &core.FrameworkError{Op: "orchestration.single", Kind: "worker", ID: s.Agent, Err: a.err}
	}
	return &SingleResult{
		Meta:     x.meta,
		WorkerID: s.Agent,
		Result:   a.result,
		Latency:  a.duration,
	}, nil
}
