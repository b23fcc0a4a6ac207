package core

import (
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProductionLogger is the default structured logger, backed by zap.
// JSON output in Kubernetes or when Format is "json", console output otherwise.
type ProductionLogger struct {
	logger      *zap.Logger
	serviceName string
	component   string
}

// NewProductionLogger builds a logger from LoggingConfig. Invalid levels
// fall back to info; an unknown output falls back to stdout.
func NewProductionLogger(cfg LoggingConfig, serviceName string) Logger {
	return &ProductionLogger{
		logger:      newZapLogger(cfg).With(zap.String("service", serviceName)),
		serviceName: serviceName,
	}
}

func newZapLogger(cfg LoggingConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stdout)
	if cfg.Output == "stderr" {
		sink = zapcore.Lock(os.Stderr)
	}

	return zap.New(zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level)))
}

// NewLoggerFromZap wraps an existing zap logger, mainly for tests that
// capture output with zaptest/observer.
func NewLoggerFromZap(l *zap.Logger, serviceName string) *ProductionLogger {
	return &ProductionLogger{logger: l, serviceName: serviceName}
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logger.Info(msg, toZapFields(fields)...)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logger.Error(msg, toZapFields(fields)...)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logger.Warn(msg, toZapFields(fields)...)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	p.logger.Debug(msg, toZapFields(fields)...)
}

// WithComponent returns a child logger tagging every entry with component.
func (p *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		logger:      p.logger.With(zap.String("component", component)),
		serviceName: p.serviceName,
		component:   component,
	}
}

// Sync flushes buffered entries.
func (p *ProductionLogger) Sync() error {
	return p.logger.Sync()
}

// toZapFields keeps key order stable so console output is diffable.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
