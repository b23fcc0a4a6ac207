// Package orchestration runs tasks against pooled workers under one of six
// strategies: single call, sequential pipeline, consensus ensemble,
// collaborative session, parallel execution and cascading fallback.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/similarity"
)

// WorkerPool is the part of the registry the executor needs.
// *registry.Registry satisfies it.
type WorkerPool interface {
	// Acquire moves an idle worker to busy, or fails with ErrWorkerNotFound
	// or ErrWorkerUnavailable.
	Acquire(id, taskID string) (core.Lease, error)
	// Release records the completion and frees the worker. A lease from a
	// replaced registration fails with ErrStaleLease and has no effect.
	Release(lease core.Lease, taskID string, result core.Result, duration time.Duration) error
	ResetWorker(id string) error
}

// Executor runs strategies against a WorkerPool. It holds no per-execution
// state and is safe for concurrent use.
type Executor struct {
	pool     WorkerPool
	cfg      core.ExecutionConfig
	logger   core.Logger
	detector *similarity.Detector

	tracer      trace.Tracer
	instruments *instruments
	newID       func() string

	statsMu sync.Mutex
	stats   map[Kind]*KindStats
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger. Component-aware loggers are tagged
// "orchestration".
func WithLogger(logger core.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = core.ForComponent(logger, "orchestration")
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) ExecutorOption {
	return func(e *Executor) {
		if mp != nil {
			e.instruments = newInstruments(mp)
		}
	}
}

// WithIDGenerator replaces the UUID generator used for execution and
// session ids.
func WithIDGenerator(gen func() string) ExecutorOption {
	return func(e *Executor) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewExecutor creates an executor. Zero-valued config fields take the
// defaults from core.DefaultExecutionConfig.
func NewExecutor(pool WorkerPool, cfg core.ExecutionConfig, opts ...ExecutorOption) *Executor {
	cfg = withDefaults(cfg)
	e := &Executor{
		pool:     pool,
		cfg:      cfg,
		logger:   &core.NoOpLogger{},
		detector: similarity.NewDetector(cfg.SimilarityThreshold, cfg.ConvergenceRatio),
		newID:    func() string { return uuid.New().String() },
		stats:    make(map[Kind]*KindStats),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.instruments == nil {
		e.instruments = newInstruments(otel.GetMeterProvider())
	}
	return e
}

func withDefaults(cfg core.ExecutionConfig) core.ExecutionConfig {
	def := core.DefaultExecutionConfig()
	durations := []struct{ v, d *time.Duration }{
		{&cfg.SingleTimeout, &def.SingleTimeout},
		{&cfg.PipelineStepTimeout, &def.PipelineStepTimeout},
		{&cfg.ConsensusTimeout, &def.ConsensusTimeout},
		{&cfg.CollaborativeTimeout, &def.CollaborativeTimeout},
		{&cfg.ParallelTimeout, &def.ParallelTimeout},
		{&cfg.FallbackTimeout, &def.FallbackTimeout},
	}
	for _, p := range durations {
		if *p.v <= 0 {
			*p.v = *p.d
		}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.ConvergenceRatio <= 0 {
		cfg.ConvergenceRatio = def.ConvergenceRatio
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	return cfg
}

// Config returns the effective configuration.
func (e *Executor) Config() core.ExecutionConfig {
	return e.cfg
}

// ExecuteStrategy runs task under strategy. Non-zero fields of opts
// override the strategy's own options. The returned result's concrete type
// matches the strategy: Single yields *SingleResult, Pipeline
// *PipelineResult and so on.
//
// Every worker acquired during the call is released before it returns:
// to idle after a success, to error after a failure or timeout.
func (e *Executor) ExecuteStrategy(ctx context.Context, strategy Strategy, taskID string, task *core.Task, opts *Options) (ExecutionResult, error) {
	strategy = concrete(strategy)
	if strategy == nil {
		return nil, core.NewFrameworkError("orchestration.ExecuteStrategy", "strategy",
			fmt.Errorf("strategy is nil: %w", core.ErrInvalidStrategy))
	}
	kind := strategy.Kind()
	if err := strategy.validate(); err != nil {
		return nil, &core.FrameworkError{Op: "orchestration.ExecuteStrategy", Kind: "strategy", ID: string(kind), Err: err}
	}
	if task == nil {
		task = &core.Task{}
	}
	if taskID == "" {
		taskID = task.ID
	}

	start := time.Now()
	meta := Meta{ID: e.newID(), Strategy: kind, TaskID: taskID, StartedAt: start}

	ctx, span := e.tracer.Start(ctx, "workforce.execute_strategy", trace.WithAttributes(
		attribute.String("workforce.strategy", string(kind)),
		attribute.String("workforce.execution_id", meta.ID),
		attribute.String("workforce.task_id", taskID),
		attribute.StringSlice("workforce.workers", strategy.Workers()),
	))
	defer span.End()

	e.logger.Info("Executing strategy", map[string]interface{}{
		"operation":    "execute_strategy",
		"strategy":     string(kind),
		"execution_id": meta.ID,
		"task_id":      taskID,
		"workers":      strategy.Workers(),
	})

	o := strategy.Options().override(opts)
	run := &execution{Executor: e, meta: meta, task: task, opts: o}

	var (
		result ExecutionResult
		err    error
	)
	switch s := strategy.(type) {
	case Single:
		result, err = run.single(ctx, s)
	case Pipeline:
		result, err = run.pipeline(ctx, s)
	case ConsensusEnsemble:
		result, err = run.consensus(ctx, s)
	case CollaborativeSession:
		result, err = run.collaborative(ctx, s)
	case ParallelExecution:
		result, err = run.parallel(ctx, s)
	case CascadingFallback:
		result, err = run.fallback(ctx, s)
	default:
		err = &core.FrameworkError{Op: "orchestration.ExecuteStrategy", Kind: "strategy", ID: string(kind), Err: core.ErrUnknownStrategy}
	}

	elapsed := time.Since(start)
	if result != nil {
		result.finish(elapsed)
	}
	e.track(ctx, kind, elapsed, err)

	fields := map[string]interface{}{
		"operation":    "execute_strategy",
		"strategy":     string(kind),
		"execution_id": meta.ID,
		"task_id":      taskID,
		"duration_ms":  elapsed.Milliseconds(),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fields["error"] = err
		e.logger.Error("Strategy execution failed", fields)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Info("Strategy execution completed", fields)
	return result, nil
}

// concrete dereferences pointer strategies so the dispatch switch only
// deals with values. A nil pointer yields nil.
func concrete(s Strategy) Strategy {
	switch p := s.(type) {
	case *Single:
		if p != nil {
			return *p
		}
	case *Pipeline:
		if p != nil {
			return *p
		}
	case *ConsensusEnsemble:
		if p != nil {
			return *p
		}
	case *CollaborativeSession:
		if p != nil {
			return *p
		}
	case *ParallelExecution:
		if p != nil {
			return *p
		}
	case *CascadingFallback:
		if p != nil {
			return *p
		}
	default:
		return s
	}
	return nil
}

// execution carries the state of one ExecuteStrategy call.
type execution struct {
	*Executor
	meta Meta
	task *core.Task
	opts Options
}

// timeout picks the per-call timeout for kind: the strategy's own option
// first, then the generic Timeout option, then the configured default.
func (x *execution) timeout(kind Kind) time.Duration {
	o := x.opts
	switch kind {
	case KindSingle:
		return firstPositive(o.Timeout, x.cfg.SingleTimeout)
	case KindFallback:
		return firstPositive(o.Timeout, x.cfg.FallbackTimeout)
	case KindPipeline:
		return firstPositive(o.StepTimeout, o.Timeout, x.cfg.PipelineStepTimeout)
	case KindConsensus:
		return firstPositive(o.AgentTimeout, o.Timeout, x.cfg.ConsensusTimeout)
	case KindCollaborative:
		return firstPositive(o.AgentTimeout, o.Timeout, x.cfg.CollaborativeTimeout)
	case KindParallel:
		return firstPositive(o.AgentTimeout, o.Timeout, x.cfg.ParallelTimeout)
	}
	return x.cfg.SingleTimeout
}

func firstPositive(ds ...time.Duration) time.Duration {
	for _, d := range ds {
		if d > 0 {
			return d
		}
	}
	return 0
}

// attempt is the outcome of trying to run one worker once.
type attempt struct {
	workerID string
	result   core.Result
	err      error
	duration time.Duration
	// invoked is false when the worker could not be acquired; no status
	// change or completion was recorded for it.
	invoked bool
}

func (a attempt) outcome(index int) Outcome {
	return Outcome{WorkerID: a.workerID, Index: index, Result: a.result, Err: a.err, Duration: a.duration}
}

// invoke acquires workerID, runs it under the per-call timeout and releases
// it. The release happens on every path, including panics in the worker.
func (x *execution) invoke(ctx context.Context, workerID string, task *core.Task) (a attempt) {
	a.workerID = workerID
	kind := x.meta.Strategy

	lease, err := x.pool.Acquire(workerID, x.meta.TaskID)
	if err != nil {
		a.err = err
		return a
	}
	a.invoked = true

	ctx, span := x.tracer.Start(ctx, "workforce.invoke_worker", trace.WithAttributes(
		attribute.String("workforce.strategy", string(kind)),
		attribute.String("workforce.worker_id", workerID),
		attribute.String("workforce.execution_id", x.meta.ID),
	))
	start := time.Now()

	defer func() {
		a.duration = time.Since(start)
		x.release(lease, a.result, a.err, a.duration)
		x.instruments.recordInvocation(ctx, kind, workerID, a.duration, a.err)
		if a.err != nil {
			span.RecordError(a.err)
			span.SetStatus(codes.Error, a.err.Error())
		}
		span.End()
	}()

	timeout := x.timeout(kind)
	a.result, a.err = x.run(ctx, lease.Worker, workerID, task, timeout)
	return a
}

type settled struct {
	result core.Result
	err    error
}

// run executes w in its own goroutine and waits for it, the timeout or the
// caller's context, whichever comes first. The worker's context is
// cancelled when run returns.
func (x *execution) run(ctx context.Context, w core.Worker, workerID string, task *core.Task, timeout time.Duration) (core.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan settled, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				x.logger.Error("Worker panicked", map[string]interface{}{
					"worker_id":    workerID,
					"execution_id": x.meta.ID,
					"panic":        fmt.Sprintf("%v", r),
					"stack":        string(debug.Stack()),
				})
				done <- settled{err: fmt.Errorf("%w: %v", core.ErrWorkerPanic, r)}
			}
		}()
		res, err := w.Execute(callCtx, task)
		done <- settled{result: res, err: err}
	}()

	select {
	case s := <-done:
		if s.err != nil {
			// A worker that honours its context returns as soon as the
			// deadline passes, racing the Done branch below.
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return nil, &core.TimeoutError{WorkerID: workerID, Timeout: timeout}
			}
			return nil, s.err
		}
		if s.result == nil {
			return core.Result{}, nil
		}
		if !s.result.Succeeded() {
			if msg, ok := s.result[core.ResultKeyError].(string); ok && msg != "" {
				return s.result, fmt.Errorf("%s: %w", msg, core.ErrTaskFailed)
			}
			return s.result, core.ErrTaskFailed
		}
		return s.result, nil
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &core.TimeoutError{WorkerID: workerID, Timeout: timeout}
	}
}

// release hands the lease back, recording the completion and returning the
// worker to idle or error. Failures here are logged, never returned: the
// invocation outcome stands.
func (x *execution) release(lease core.Lease, result core.Result, err error, d time.Duration) {
	workerID := lease.WorkerID
	recorded := result
	if err != nil {
		recorded = core.Result{core.ResultKeySuccess: false, core.ResultKeyError: err.Error()}
		x.logger.Error("Worker invocation failed", map[string]interface{}{
			"worker_id":    workerID,
			"execution_id": x.meta.ID,
			"strategy":     string(x.meta.Strategy),
			"duration_ms":  d.Milliseconds(),
			"timeout":      isTimeout(err),
			"error":        err,
		})
	} else if recorded == nil {
		recorded = core.Result{}
	}

	if rerr := x.pool.Release(lease, x.meta.TaskID, recorded, d); rerr != nil {
		fields := map[string]interface{}{
			"worker_id":  workerID,
			"generation": lease.Generation,
			"error":      rerr,
		}
		if errors.Is(rerr, core.ErrStaleLease) {
			x.logger.Warn("Discarded completion from replaced worker", fields)
			return
		}
		x.logger.Warn("Failed to release worker", fields)
	}
}

func isTimeout(err error) bool {
	var te *core.TimeoutError
	return errors.As(err, &te)
}

// KindStats counts executions of one strategy kind.
type KindStats struct {
	Executions    int64         `json:"executions"`
	Failures      int64         `json:"failures"`
	Timeouts      int64         `json:"timeouts"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Stats returns a copy of the per-kind execution counters.
func (e *Executor) Stats() map[Kind]KindStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	out := make(map[Kind]KindStats, len(e.stats))
	for k, v := range e.stats {
		out[k] = *v
	}
	return out
}

func (e *Executor) track(ctx context.Context, kind Kind, elapsed time.Duration, err error) {
	e.statsMu.Lock()
	s, ok := e.stats[kind]
	if !ok {
		s = &KindStats{}
		e.stats[kind] = s
	}
	s.Executions++
	s.TotalDuration += elapsed
	if err != nil {
		s.Failures++
		if isTimeout(err) {
			s.Timeouts++
		}
	}
	e.statsMu.Unlock()

	e.instruments.recordExecution(ctx, kind, elapsed, err != nil)
}
