package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/orchestration"
	"github.com/itsneelabh/workforce/registry"
)

// scenario pairs a task with a strategy descriptor. An empty descriptor
// routes the task to the best registered worker.
type scenario struct {
	task       core.Task
	descriptor string
}

var scenarios = []scenario{
	{
		task: core.Task{Description: "optimize database query performance", Requirements: []string{"analysis"}},
	},
	{
		task: core.Task{Description: "build the billing API endpoint"},
		descriptor: `
type: pipeline
agents: [architect, backend-dev, security-reviewer]
options:
  stepTimeout: 5s
`,
	},
	{
		task:       core.Task{Description: "review the authentication flow for vulnerabilities"},
		descriptor: `{"type": "consensus_ensemble", "agents": ["security-reviewer", "architect", "backend-dev"], "options": {"agentTimeout": 3000}}`,
	},
	{
		task: core.Task{Description: "design the caching layer"},
		descriptor: `
type: collaborative_session
agents: [architect, backend-dev, perf-analyst]
options:
  maxIterations: 4
  agentTimeout: 2s
`,
	},
	{
		task:       core.Task{Description: "write tests for the checkout page"},
		descriptor: "type: parallel_execution\nagents: [tester, frontend-dev, flaky-intern]\n",
	},
	{
		task:       core.Task{Description: "fix the failing login form"},
		descriptor: "type: cascading_fallback\nagents: [flaky-intern, frontend-dev, backend-dev]\noptions: {timeout: 2s}\n",
	},
}

type demoRunner struct {
	exec     *orchestration.Executor
	reg      *registry.Registry
	logger   core.Logger
	interval time.Duration
}

// Run executes every scenario, then waits interval, until ctx is done.
func (d *demoRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		for _, sc := range scenarios {
			if ctx.Err() != nil {
				return
			}
			d.runScenario(ctx, sc)
		}
		d.recoverWorkers()

		health := d.reg.HealthCheck()
		d.logger.Info("Demo round complete", map[string]interface{}{
			"health":          string(health.Status),
			"healthy_workers": health.HealthyWorkers,
			"total_workers":   health.TotalWorkers,
		})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// recoverWorkers returns every worker left in error status to idle so the
// next round starts with the full pool.
func (d *demoRunner) recoverWorkers() {
	for _, w := range d.reg.List() {
		if w.Status != core.StatusError {
			continue
		}
		if err := d.reg.ResetWorker(w.ID); err != nil {
			d.logger.Warn("Worker reset failed", map[string]interface{}{
				"worker_id": w.ID,
				"error":     err.Error(),
			})
			continue
		}
		d.logger.Info("Worker reset", map[string]interface{}{
			"worker_id":    w.ID,
			"success_rate": w.Performance.SuccessRate,
		})
	}
}

func (d *demoRunner) runScenario(ctx context.Context, sc scenario) {
	task := sc.task
	task.ID = uuid.NewString()

	strategy, err := d.strategyFor(&task, sc.descriptor)
	if err != nil {
		d.logger.Warn("Scenario skipped", map[string]interface{}{
			"task":  task.Description,
			"error": err.Error(),
		})
		return
	}

	res, err := d.exec.ExecuteStrategy(ctx, strategy, task.ID, &task, nil)
	if err != nil {
		d.logger.Warn("Scenario failed", map[string]interface{}{
			"strategy": string(strategy.Kind()),
			"task":     task.Description,
			"error":    err.Error(),
		})
		return
	}
	d.logger.Info("Scenario finished", map[string]interface{}{
		"strategy":     string(res.Kind()),
		"execution_id": res.ExecutionID(),
		"duration_ms":  res.Elapsed().Milliseconds(),
	})
}

func (d *demoRunner) strategyFor(task *core.Task, descriptor string) (orchestration.Strategy, error) {
	if descriptor != "" {
		return orchestration.ParseDescriptor([]byte(descriptor))
	}
	sel, ok := d.reg.GetBestWorkerForTask(task)
	if !ok {
		return nil, core.ErrWorkerUnavailable
	}
	d.logger.Debug("Routed task", map[string]interface{}{
		"task":      task.Description,
		"domain":    sel.Domain,
		"worker_id": sel.Worker.ID,
		"score":     sel.Score,
	})
	return orchestration.Single{Agent: sel.Worker.ID}, nil
}
