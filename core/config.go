package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the workforce orchestrator.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// A config file (JSON or YAML) can be layered in with WithConfigFile.
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("review-orchestrator"),
//	    WithMaxConcurrency(4),
//	    WithLogLevel("debug"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Name string `json:"name" yaml:"name" env:"WORKFORCE_NAME"`

	Registry  RegistryConfig  `json:"registry" yaml:"registry"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Publisher PublisherConfig `json:"publisher" yaml:"publisher"`
}

// RegistryConfig controls worker selection, performance tracking and the
// cleanup sweep.
type RegistryConfig struct {
	RecentTaskLimit       int           `json:"recent_task_limit" yaml:"recent_task_limit" env:"WORKFORCE_RECENT_TASK_LIMIT" default:"50"`
	HistoryLimit          int           `json:"history_limit" yaml:"history_limit" env:"WORKFORCE_HISTORY_LIMIT" default:"100"`
	StaleAfter            time.Duration `json:"stale_after" yaml:"stale_after" env:"WORKFORCE_STALE_AFTER" default:"24h"`
	SuccessRateThreshold  float64       `json:"success_rate_threshold" yaml:"success_rate_threshold" env:"WORKFORCE_SUCCESS_RATE_THRESHOLD" default:"0.8"`
	LatencyThreshold      time.Duration `json:"latency_threshold" yaml:"latency_threshold" env:"WORKFORCE_LATENCY_THRESHOLD" default:"30s"`
	ResponseTimeThreshold time.Duration `json:"response_time_threshold" yaml:"response_time_threshold" env:"WORKFORCE_RESPONSE_TIME_THRESHOLD" default:"30s"`
	DefaultPriority       int           `json:"default_priority" yaml:"default_priority" env:"WORKFORCE_DEFAULT_PRIORITY" default:"5"`
	CleanupInterval       time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"WORKFORCE_CLEANUP_INTERVAL" default:"1h"`
}

// ExecutionConfig holds the per-strategy default timeouts and the limits
// used by the strategy executor.
type ExecutionConfig struct {
	SingleTimeout        time.Duration `json:"single_timeout" yaml:"single_timeout" env:"WORKFORCE_SINGLE_TIMEOUT" default:"120s"`
	PipelineStepTimeout  time.Duration `json:"pipeline_step_timeout" yaml:"pipeline_step_timeout" env:"WORKFORCE_PIPELINE_STEP_TIMEOUT" default:"180s"`
	ConsensusTimeout     time.Duration `json:"consensus_timeout" yaml:"consensus_timeout" env:"WORKFORCE_CONSENSUS_TIMEOUT" default:"150s"`
	CollaborativeTimeout time.Duration `json:"collaborative_timeout" yaml:"collaborative_timeout" env:"WORKFORCE_COLLABORATIVE_TIMEOUT" default:"300s"`
	ParallelTimeout      time.Duration `json:"parallel_timeout" yaml:"parallel_timeout" env:"WORKFORCE_PARALLEL_TIMEOUT" default:"90s"`
	FallbackTimeout      time.Duration `json:"fallback_timeout" yaml:"fallback_timeout" env:"WORKFORCE_FALLBACK_TIMEOUT" default:"120s"`
	MaxIterations        int           `json:"max_iterations" yaml:"max_iterations" env:"WORKFORCE_MAX_ITERATIONS" default:"5"`
	MaxConcurrency       int           `json:"max_concurrency" yaml:"max_concurrency" env:"WORKFORCE_MAX_CONCURRENCY" default:"10"`
	ConvergenceRatio     float64       `json:"convergence_ratio" yaml:"convergence_ratio" env:"WORKFORCE_CONVERGENCE_RATIO" default:"0.8"`
	SimilarityThreshold  float64       `json:"similarity_threshold" yaml:"similarity_threshold" env:"WORKFORCE_SIMILARITY_THRESHOLD" default:"0.9"`
}

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (text) formats.
// In Kubernetes environments, JSON format is recommended for log aggregation.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"WORKFORCE_LOG_LEVEL" default:"info"`
	Format string `json:"format" yaml:"format" env:"WORKFORCE_LOG_FORMAT" default:"json"`
	Output string `json:"output" yaml:"output" env:"WORKFORCE_LOG_OUTPUT" default:"stdout"`
}

// TelemetryConfig contains tracing configuration. Exporter is "stdout",
// "otlp" (gRPC) or "otlp-http"; the OTLP exporters need an endpoint.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" env:"WORKFORCE_TELEMETRY_ENABLED" default:"false"`
	Exporter     string  `json:"exporter" yaml:"exporter" env:"WORKFORCE_TELEMETRY_EXPORTER" default:"otlp"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint" env:"WORKFORCE_TELEMETRY_ENDPOINT,OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string  `json:"service_name" yaml:"service_name" env:"WORKFORCE_TELEMETRY_SERVICE_NAME,OTEL_SERVICE_NAME"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" env:"WORKFORCE_TELEMETRY_SAMPLING_RATE" default:"1.0"`
	Insecure     bool    `json:"insecure" yaml:"insecure" env:"WORKFORCE_TELEMETRY_INSECURE" default:"true"`
}

// PublisherConfig controls export of performance snapshots to Redis for
// external dashboards. Snapshots are write-only; nothing is restored from them.
type PublisherConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled" env:"WORKFORCE_PUBLISHER_ENABLED" default:"false"`
	RedisURL  string        `json:"redis_url" yaml:"redis_url" env:"WORKFORCE_REDIS_URL,REDIS_URL"`
	Namespace string        `json:"namespace" yaml:"namespace" env:"WORKFORCE_PUBLISHER_NAMESPACE" default:"workforce"`
	TTL       time.Duration `json:"ttl" yaml:"ttl" env:"WORKFORCE_PUBLISHER_TTL" default:"5m"`
	Interval  time.Duration `json:"interval" yaml:"interval" env:"WORKFORCE_PUBLISHER_INTERVAL" default:"30s"`
}

// Option is a functional option for configuring the orchestrator.
// Options are applied in order and can return an error if the configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Name:      "workforce",
		Registry:  DefaultRegistryConfig(),
		Execution: DefaultExecutionConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			Exporter:     "otlp",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Publisher: PublisherConfig{
			Enabled:   false,
			Namespace: "workforce",
			TTL:       5 * time.Minute,
			Interval:  30 * time.Second,
		},
	}

	// Human-readable logs outside Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
		cfg.Logging.Format = "text"
	}

	return cfg
}

// DefaultRegistryConfig returns the registry defaults on their own, for
// callers that build a registry without a full Config.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		RecentTaskLimit:       50,
		HistoryLimit:          100,
		StaleAfter:            24 * time.Hour,
		SuccessRateThreshold:  0.8,
		LatencyThreshold:      30 * time.Second,
		ResponseTimeThreshold: 30 * time.Second,
		DefaultPriority:       5,
		CleanupInterval:       time.Hour,
	}
}

// DefaultExecutionConfig returns the executor defaults on their own.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		SingleTimeout:        120 * time.Second,
		PipelineStepTimeout:  180 * time.Second,
		ConsensusTimeout:     150 * time.Second,
		CollaborativeTimeout: 300 * time.Second,
		ParallelTimeout:      90 * time.Second,
		FallbackTimeout:      120 * time.Second,
		MaxIterations:        5,
		MaxConcurrency:       10,
		ConvergenceRatio:     0.8,
		SimilarityThreshold:  0.9,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults but are overridden by functional options.
//
// Returns an error if environment variables contain invalid values.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("WORKFORCE_NAME"); v != "" {
		c.Name = v
	}

	// Registry settings
	if err := envInt("WORKFORCE_RECENT_TASK_LIMIT", &c.Registry.RecentTaskLimit); err != nil {
		return err
	}
	if err := envInt("WORKFORCE_HISTORY_LIMIT", &c.Registry.HistoryLimit); err != nil {
		return err
	}
	if err := envDuration("WORKFORCE_STALE_AFTER", &c.Registry.StaleAfter); err != nil {
		return err
	}
	if err := envFloat("WORKFORCE_SUCCESS_RATE_THRESHOLD", &c.Registry.SuccessRateThreshold); err != nil {
		return err
	}
	if err := envDuration("WORKFORCE_LATENCY_THRESHOLD", &c.Registry.LatencyThreshold); err != nil {
		return err
	}
	if err := envDuration("WORKFORCE_RESPONSE_TIME_THRESHOLD", &c.Registry.ResponseTimeThreshold); err != nil {
		return err
	}
	if err := envInt("WORKFORCE_DEFAULT_PRIORITY", &c.Registry.DefaultPriority); err != nil {
		return err
	}
	if err := envDuration("WORKFORCE_CLEANUP_INTERVAL", &c.Registry.CleanupInterval); err != nil {
		return err
	}

	// Execution settings
	durations := map[string]*time.Duration{
		"WORKFORCE_SINGLE_TIMEOUT":        &c.Execution.SingleTimeout,
		"WORKFORCE_PIPELINE_STEP_TIMEOUT": &c.Execution.PipelineStepTimeout,
		"WORKFORCE_CONSENSUS_TIMEOUT":     &c.Execution.ConsensusTimeout,
		"WORKFORCE_COLLABORATIVE_TIMEOUT": &c.Execution.CollaborativeTimeout,
		"WORKFORCE_PARALLEL_TIMEOUT":      &c.Execution.ParallelTimeout,
		"WORKFORCE_FALLBACK_TIMEOUT":      &c.Execution.FallbackTimeout,
	}
	for name, target := range durations {
		if err := envDuration(name, target); err != nil {
			return err
		}
	}
	if err := envInt("WORKFORCE_MAX_ITERATIONS", &c.Execution.MaxIterations); err != nil {
		return err
	}
	if err := envInt("WORKFORCE_MAX_CONCURRENCY", &c.Execution.MaxConcurrency); err != nil {
		return err
	}
	if err := envFloat("WORKFORCE_CONVERGENCE_RATIO", &c.Execution.ConvergenceRatio); err != nil {
		return err
	}
	if err := envFloat("WORKFORCE_SIMILARITY_THRESHOLD", &c.Execution.SimilarityThreshold); err != nil {
		return err
	}

	// Logging settings
	if v := os.Getenv("WORKFORCE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WORKFORCE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("WORKFORCE_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}

	// Telemetry settings
	if v := os.Getenv("WORKFORCE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("WORKFORCE_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := firstEnv("WORKFORCE_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := firstEnv("WORKFORCE_TELEMETRY_SERVICE_NAME", "OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if err := envFloat("WORKFORCE_TELEMETRY_SAMPLING_RATE", &c.Telemetry.SamplingRate); err != nil {
		return err
	}
	if v := os.Getenv("WORKFORCE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = parseBool(v)
	}

	// Publisher settings
	if v := os.Getenv("WORKFORCE_PUBLISHER_ENABLED"); v != "" {
		c.Publisher.Enabled = parseBool(v)
	}
	if v := firstEnv("WORKFORCE_REDIS_URL", "REDIS_URL"); v != "" {
		c.Publisher.RedisURL = v
	}
	if v := os.Getenv("WORKFORCE_PUBLISHER_NAMESPACE"); v != "" {
		c.Publisher.Namespace = v
	}
	if err := envDuration("WORKFORCE_PUBLISHER_TTL", &c.Publisher.TTL); err != nil {
		return err
	}
	if err := envDuration("WORKFORCE_PUBLISHER_INTERVAL", &c.Publisher.Interval); err != nil {
		return err
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file.
// The file format is determined by the extension (.json, .yaml or .yml).
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path is operator supplied
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
// This method is called automatically by NewConfig() but can also be called
// manually after modifying configuration.
func (c *Config) Validate() error {
	invalid := func(msg string, err error) error {
		return &FrameworkError{
			Op:      "Config.Validate",
			Kind:    "config",
			Message: msg,
			Err:     err,
		}
	}

	if c.Name == "" {
		return invalid("name is required", ErrMissingConfiguration)
	}

	if c.Registry.RecentTaskLimit <= 0 || c.Registry.HistoryLimit <= 0 {
		return invalid("registry history limits must be positive", ErrInvalidConfiguration)
	}
	if c.Registry.StaleAfter <= 0 {
		return invalid("registry stale_after must be positive", ErrInvalidConfiguration)
	}
	if !inUnitInterval(c.Registry.SuccessRateThreshold) {
		return invalid(fmt.Sprintf("invalid success rate threshold: %v", c.Registry.SuccessRateThreshold), ErrInvalidConfiguration)
	}

	for name, d := range map[string]time.Duration{
		"single_timeout":        c.Execution.SingleTimeout,
		"pipeline_step_timeout": c.Execution.PipelineStepTimeout,
		"consensus_timeout":     c.Execution.ConsensusTimeout,
		"collaborative_timeout": c.Execution.CollaborativeTimeout,
		"parallel_timeout":      c.Execution.ParallelTimeout,
		"fallback_timeout":      c.Execution.FallbackTimeout,
	} {
		if d <= 0 {
			return invalid(fmt.Sprintf("execution %s must be positive", name), ErrInvalidConfiguration)
		}
	}
	if c.Execution.MaxIterations < 1 {
		return invalid(fmt.Sprintf("invalid max iterations: %d", c.Execution.MaxIterations), ErrInvalidConfiguration)
	}
	if c.Execution.MaxConcurrency < 1 {
		return invalid(fmt.Sprintf("invalid max concurrency: %d", c.Execution.MaxConcurrency), ErrInvalidConfiguration)
	}
	if !inUnitInterval(c.Execution.ConvergenceRatio) || !inUnitInterval(c.Execution.SimilarityThreshold) {
		return invalid("convergence thresholds must be within (0, 1]", ErrInvalidConfiguration)
	}

	otlp := c.Telemetry.Exporter == "otlp" || c.Telemetry.Exporter == "otlp-http"
	if c.Telemetry.Enabled && otlp && c.Telemetry.Endpoint == "" {
		return invalid("telemetry endpoint is required for the otlp exporter", ErrMissingConfiguration)
	}

	if c.Publisher.Enabled && c.Publisher.RedisURL == "" {
		return invalid("redis URL is required when the publisher is enabled", ErrMissingConfiguration)
	}

	return nil
}

// Helper functions

func inUnitInterval(v float64) bool {
	return v > 0 && v <= 1
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func envInt(name string, target *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, ErrInvalidConfiguration)
	}
	*target = n
	return nil
}

func envFloat(name string, target *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, ErrInvalidConfiguration)
	}
	*target = f
	return nil
}

func envDuration(name string, target *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, ErrInvalidConfiguration)
	}
	*target = d
	return nil
}

// parseBool converts a string to a boolean value.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// Everything else is false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the orchestrator name used in logs and telemetry.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithMaxConcurrency bounds the width of consensus and parallel fan-outs.
func WithMaxConcurrency(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &FrameworkError{
				Op:      "WithMaxConcurrency",
				Kind:    "config",
				Message: fmt.Sprintf("invalid max concurrency: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Execution.MaxConcurrency = n
		return nil
	}
}

// WithMaxIterations sets the default round cap for collaborative sessions.
func WithMaxIterations(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return &FrameworkError{
				Op:      "WithMaxIterations",
				Kind:    "config",
				Message: fmt.Sprintf("invalid max iterations: %d", n),
				Err:     ErrInvalidConfiguration,
			}
		}
		c.Execution.MaxIterations = n
		return nil
	}
}

// WithStaleAfter sets how long a worker may sit in error status before the
// cleanup sweep evicts it.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Config) error {
		c.Registry.StaleAfter = d
		return nil
	}
}

// WithHealthThresholds sets the per-worker success-rate and latency limits
// used by the registry health report.
func WithHealthThresholds(successRate float64, latency time.Duration) Option {
	return func(c *Config) error {
		c.Registry.SuccessRateThreshold = successRate
		c.Registry.LatencyThreshold = latency
		return nil
	}
}

// WithLogLevel sets the logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets the log output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithTelemetry enables tracing with the given exporter and endpoint.
func WithTelemetry(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// WithRedisPublisher enables snapshot export to the given Redis URL.
func WithRedisPublisher(redisURL string) Option {
	return func(c *Config) error {
		c.Publisher.Enabled = true
		c.Publisher.RedisURL = redisURL
		return nil
	}
}

// WithConfigFile layers a JSON or YAML file over the current values.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a new configuration with the provided options.
// It applies configuration in the following order:
//  1. Default values
//  2. Environment variables
//  3. Functional options (in the order provided)
//
// The final configuration is validated before being returned.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
