package main

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/registry"
)

// persona describes one simulated worker.
type persona struct {
	id           string
	capabilities []string
	specialties  []string
	priority     int
	latency      time.Duration
	failureRate  float64
	confidence   float64
}

var personas = []persona{
	{id: "architect", capabilities: []string{"architecture", "design"}, specialties: []string{"architecture"}, priority: 8, latency: 120 * time.Millisecond, confidence: 0.85},
	{id: "backend-dev", capabilities: []string{"coding", "api"}, specialties: []string{"backend"}, priority: 6, latency: 80 * time.Millisecond, failureRate: 0.05, confidence: 0.75},
	{id: "frontend-dev", capabilities: []string{"coding", "ui"}, specialties: []string{"frontend"}, priority: 5, latency: 70 * time.Millisecond, failureRate: 0.05, confidence: 0.7},
	{id: "security-reviewer", capabilities: []string{"review", "security"}, specialties: []string{"security"}, priority: 7, latency: 150 * time.Millisecond, confidence: 0.9},
	{id: "perf-analyst", capabilities: []string{"analysis", "optimization"}, specialties: []string{"performance"}, priority: 6, latency: 100 * time.Millisecond, failureRate: 0.1, confidence: 0.8},
	{id: "tester", capabilities: []string{"testing"}, specialties: []string{"testing"}, priority: 4, latency: 60 * time.Millisecond, failureRate: 0.2, confidence: 0.65},
	{id: "flaky-intern", capabilities: []string{"coding"}, priority: 1, latency: 40 * time.Millisecond, failureRate: 0.6, confidence: 0.4},
}

// registerPersonas registers every persona in declaration order.
func registerPersonas(reg *registry.Registry) error {
	for _, p := range personas {
		p := p
		w := core.WorkerFunc{
			Fn: p.execute,
			Meta: core.Profile{
				Capabilities: p.capabilities,
				Specialties:  p.specialties,
				Priority:     p.priority,
			},
		}
		if err := reg.Register(p.id, w); err != nil {
			return err
		}
	}
	return nil
}

func (p persona) execute(ctx context.Context, task *core.Task) (core.Result, error) {
	jitter := time.Duration(rand.Int63n(int64(p.latency/2) + 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.latency + jitter):
	}

	if rand.Float64() < p.failureRate {
		return nil, fmt.Errorf("%s could not finish %q", p.id, task.Description)
	}

	result := core.Result{
		core.ResultKeySuccess:    true,
		core.ResultKeyConfidence: p.confidence,
		core.ResultKeyOutput:     p.output(task),
	}
	if task.Collaboration != nil {
		result[core.ResultKeySharedUpdates] = map[string]interface{}{
			p.id + "_round": task.Collaboration.Round,
		}
	}
	return result, nil
}

// output is stable across rounds after the first, so collaborative
// sessions converge.
func (p persona) output(task *core.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %s", p.id, task.Description)
	switch {
	case task.Pipeline != nil:
		fmt.Fprintf(&b, " (step %d/%d)", task.Pipeline.Step, task.Pipeline.TotalSteps)
	case task.Collaboration != nil && task.Collaboration.Round == 1:
		b.WriteString(" (draft)")
	}
	return b.String()
}
