package orchestration

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/itsneelabh/workforce/orchestration"

// instruments holds the executor's OpenTelemetry metrics.
type instruments struct {
	executions metric.Int64Counter
	failures   metric.Int64Counter
	timeouts   metric.Int64Counter
	duration   metric.Float64Histogram
	invocation metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) *instruments {
	meter := mp.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, help string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(help))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	histogram := func(name, help string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(help),
			metric.WithUnit("ms"),
			metric.WithExplicitBucketBoundaries(10, 100, 1000, 10000, 60000, 300000))
		if err != nil {
			h, _ = fallback.Float64Histogram(name)
		}
		return h
	}

	return &instruments{
		executions: counter("workforce.strategy.executions", "Strategy executions"),
		failures:   counter("workforce.strategy.failures", "Strategy executions that returned an error"),
		timeouts:   counter("workforce.worker.timeouts", "Worker invocations abandoned on timeout"),
		duration:   histogram("workforce.strategy.duration_ms", "Strategy execution time in milliseconds"),
		invocation: histogram("workforce.worker.duration_ms", "Worker invocation time in milliseconds"),
	}
}

func (in *instruments) recordExecution(ctx context.Context, kind Kind, elapsed time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("strategy", string(kind)),
		attribute.String("status", status),
	)
	in.executions.Add(ctx, 1, attrs)
	if failed {
		in.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", string(kind))))
	}
	in.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}

func (in *instruments) recordInvocation(ctx context.Context, kind Kind, workerID string, elapsed time.Duration, err error) {
	status := "success"
	switch {
	case isTimeout(err):
		status = "timeout"
		in.timeouts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strategy", string(kind)),
			attribute.String("worker_id", workerID),
		))
	case err != nil:
		status = "error"
	}
	in.invocation.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("strategy", string(kind)),
		attribute.String("worker_id", workerID),
		attribute.String("status", status),
	))
}
