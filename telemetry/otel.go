// Package telemetry configures OpenTelemetry tracing and metrics for the
// workforce service and installs the providers globally.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/itsneelabh/workforce/core"
)

// Exporter names accepted in TelemetryConfig.Exporter.
const (
	ExporterStdout   = "stdout"
	ExporterOTLP     = "otlp" // OTLP over gRPC
	ExporterOTLPHTTP = "otlp-http"
	ExporterNone     = "none"
)

const metricInterval = 30 * time.Second

// Provider owns the SDK tracer and meter providers.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider

	serviceName string
	exporter    string
	logger      core.Logger
}

type setupOptions struct {
	writer    io.Writer
	logger    core.Logger
	setGlobal bool
}

// SetupOption customizes Setup.
type SetupOption func(*setupOptions)

// WithWriter sends stdout-exporter output to w instead of os.Stdout.
func WithWriter(w io.Writer) SetupOption {
	return func(o *setupOptions) { o.writer = w }
}

// WithLogger sets the logger. Component-aware loggers are tagged "telemetry".
func WithLogger(l core.Logger) SetupOption {
	return func(o *setupOptions) { o.logger = core.ForComponent(l, "telemetry") }
}

// WithoutGlobal keeps the providers out of the otel globals, for tests.
func WithoutGlobal() SetupOption {
	return func(o *setupOptions) { o.setGlobal = false }
}

// Setup builds tracer and meter providers from cfg. When telemetry is
// disabled the providers are created without exporters, so spans and
// measurements are dropped.
func Setup(ctx context.Context, cfg core.TelemetryConfig, serviceName string, opts ...SetupOption) (*Provider, error) {
	o := setupOptions{writer: os.Stdout, logger: &core.NoOpLogger{}, setGlobal: true}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.ServiceName != "" {
		serviceName = cfg.ServiceName
	}
	exporter := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if !cfg.Enabled {
		exporter = ExporterNone
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTEL resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
	}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	switch exporter {
	case ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(o.writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithSyncer(exp))
	case ExporterOTLP, "otlp-grpc":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exp))
	case ExporterOTLPHTTP:
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		metricHTTPOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
			metricHTTPOpts = append(metricHTTPOpts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP HTTP trace exporter: %w", err)
		}
		mexp, err := otlpmetrichttp.New(ctx, metricHTTPOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP HTTP metric exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exp))
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(mexp, sdkmetric.WithInterval(metricInterval))))
	default:
		return nil, &core.FrameworkError{
			Op:   "telemetry.Setup",
			Kind: "config",
			ID:   cfg.Exporter,
			Err:  fmt.Errorf("unknown exporter: %w", core.ErrInvalidConfiguration),
		}
	}

	p := &Provider{
		TracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		MeterProvider:  sdkmetric.NewMeterProvider(metricOpts...),
		serviceName:    serviceName,
		exporter:       exporter,
		logger:         o.logger,
	}

	if o.setGlobal {
		otel.SetTracerProvider(p.TracerProvider)
		otel.SetMeterProvider(p.MeterProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	o.logger.Info("Telemetry initialized", map[string]interface{}{
		"service":       serviceName,
		"exporter":      exporter,
		"endpoint":      cfg.Endpoint,
		"sampling_rate": cfg.SamplingRate,
	})
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion()),
			semconv.DeploymentEnvironment(environment()),
			attribute.String("workforce.component", "orchestrator"),
		),
		resource.WithFromEnv(),
	)
}

func serviceVersion() string {
	if v := os.Getenv("OTEL_SERVICE_VERSION"); v != "" {
		return v
	}
	return core.Version
}

func environment() string {
	if env := os.Getenv("DEPLOYMENT_ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// ServiceName returns the service name recorded on the resource.
func (p *Provider) ServiceName() string { return p.serviceName }

// Exporter returns the effective exporter name.
func (p *Provider) Exporter() string { return p.exporter }

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
	)
	if err != nil {
		p.logger.Warn("Telemetry shutdown incomplete", map[string]interface{}{"error": err})
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}
