package orchestration

import (
	"context"
	"fmt"

	"github.com/itsneelabh/workforce/core"
)

// collaborative runs the cohort in sequential rounds. Every member sees the
// shared context and the previous round's contributions. A failing member
// is skipped for that round only and reset before the next one. From the
// second round on, each member's result is compared with its own previous
// result; the session stops at the first converged round or after
// MaxIterations rounds.
func (x *execution) collaborative(ctx context.Context, s CollaborativeSession) (*CollaborativeResult, error) {
	maxIterations := x.opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = x.cfg.MaxIterations
	}

	res := &CollaborativeResult{
		Meta:          x.meta,
		SessionID:     x.newID(),
		SharedContext: make(map[string]interface{}),
	}

	unknown := make(map[string]bool)
	needsReset := make(map[string]bool)
	var (
		previous  []core.Contribution
		errs      []error
		succeeded bool
	)

	for round := 1; round <= maxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return nil, &core.FrameworkError{Op: "orchestration.collaborative_session", Kind: "strategy", ID: res.SessionID, Err: err}
		}

		r := Round{Number: round}
		for i, id := range s.Agents {
			if unknown[id] {
				continue
			}
			if needsReset[id] {
				if err := x.pool.ResetWorker(id); err != nil {
					x.logger.Warn("Failed to reset worker between rounds", map[string]interface{}{
						"worker_id":  id,
						"session_id": res.SessionID,
						"error":      err,
					})
				}
				delete(needsReset, id)
			}

			t := x.task.Clone()
			t.Collaboration = &core.CollaborationContext{
				SessionID:     res.SessionID,
				Round:         round,
				MaxIterations: maxIterations,
				SharedContext: copyMap(res.SharedContext),
				PreviousRound: append([]core.Contribution(nil), previous...),
			}

			a := x.invoke(ctx, id, t)
			if !a.invoked && core.IsNotFound(a.err) {
				x.logger.Warn("Skipping unknown worker", map[string]interface{}{
					"worker_id":  id,
					"session_id": res.SessionID,
				})
				unknown[id] = true
				res.Skipped = append(res.Skipped, id)
				continue
			}
			if a.err != nil {
				x.logger.Warn("Collaborator failed, skipping for this round", map[string]interface{}{
					"worker_id":  id,
					"session_id": res.SessionID,
					"round":      round,
					"error":      a.err,
				})
				needsReset[id] = a.invoked
				r.Failures = append(r.Failures, a.outcome(i))
				errs = append(errs, fmt.Errorf("round %d, %s: %w", round, id, a.err))
				continue
			}

			succeeded = true
			r.Contributions = append(r.Contributions, core.Contribution{WorkerID: id, Result: a.result})
			for k, v := range a.result.SharedUpdates() {
				res.SharedContext[k] = v
			}
		}

		if round >= 2 {
			v := x.detector.Evaluate(previous, r.Contributions)
			r.Verdict = &v
			res.Converged = v.Converged
		}
		res.Rounds = append(res.Rounds, r)
		previous = r.Contributions

		x.logger.Debug("Collaborative round completed", map[string]interface{}{
			"session_id":    res.SessionID,
			"round":         round,
			"contributions": len(r.Contributions),
			"failures":      len(r.Failures),
			"converged":     res.Converged,
		})
		if res.Converged {
			break
		}
	}

	if !succeeded {
		return nil, &core.AggregateError{Op: "orchestration.collaborative_session", Errors: errs}
	}

	res.Consensus = summarize(res.Rounds[len(res.Rounds)-1].Contributions)
	x.logger.Info("Collaborative session finished", map[string]interface{}{
		"session_id":      res.SessionID,
		"rounds":          len(res.Rounds),
		"converged":       res.Converged,
		"participants":    res.Consensus.Participants,
		"mean_confidence": res.Consensus.MeanConfidence,
	})
	return res, nil
}

// summarize builds the consensus of one round. Contributions without a
// confidence count as zero; the first contribution with the highest
// confidence is the representative.
func summarize(contributions []core.Contribution) Consensus {
	c := Consensus{Participants: len(contributions)}
	if len(contributions) == 0 {
		return c
	}

	best := -1.0
	total := 0.0
	for _, contrib := range contributions {
		conf, _ := contrib.Result.Confidence()
		total += conf
		if conf > best {
			best = conf
			c.Representative = contrib
		}
	}
	c.MeanConfidence = total / float64(len(contributions))
	return c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
