// Command workforce runs the orchestrator over a pool of simulated workers
// and serves the registry health and metrics endpoints.
//
// Environment Variables:
//
//	PORT                         - HTTP server port (default: 8080)
//	WORKFORCE_CONFIG_FILE        - optional JSON or YAML config file
//	WORKFORCE_DEMO_INTERVAL      - pause between demo rounds (default: 15s)
//	WORKFORCE_TELEMETRY_ENABLED  - enable tracing (true/false)
//	WORKFORCE_PUBLISHER_ENABLED  - publish snapshots to Redis (needs REDIS_URL)
//
// Every other WORKFORCE_* variable recognised by core.Config applies too.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/orchestration"
	"github.com/itsneelabh/workforce/registry"
	"github.com/itsneelabh/workforce/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("workforce: %v", err)
	}
}

func run() error {
	var opts []core.Option
	if path := os.Getenv("WORKFORCE_CONFIG_FILE"); path != "" {
		opts = append(opts, core.WithConfigFile(path))
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return err
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Name)
	if pl, ok := logger.(*core.ProductionLogger); ok {
		defer func() { _ = pl.Sync() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Name, telemetry.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	reg := registry.New(cfg.Registry, registry.WithLogger(logger))
	if err := registerPersonas(reg); err != nil {
		return err
	}

	exec := orchestration.NewExecutor(reg, cfg.Execution,
		orchestration.WithLogger(logger),
		orchestration.WithTracerProvider(tp.TracerProvider),
		orchestration.WithMeterProvider(tp.MeterProvider),
	)

	cleanupDone := reg.StartCleanup(ctx, cfg.Registry.CleanupInterval)

	if cfg.Publisher.Enabled {
		pub, err := registry.NewRedisPublisher(cfg.Publisher, reg, logger)
		if err != nil {
			return fmt.Errorf("redis publisher: %w", err)
		}
		defer pub.Close()
		go pub.Run(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port()),
		Handler:           newMux(reg, exec),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	demo := &demoRunner{
		exec:     exec,
		reg:      reg,
		logger:   core.ForComponent(logger, "demo"),
		interval: demoInterval(),
	}
	go demo.Run(ctx)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", map[string]interface{}{"error": err.Error()})
	}
	<-cleanupDone
	return nil
}

func newMux(reg *registry.Registry, exec *orchestration.Executor) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", otelhttp.NewHandler(registry.StatusHandler(reg), "workforce.health"))
	mux.Handle("/metrics/workers", otelhttp.NewHandler(registry.MetricsHandler(reg), "workforce.worker_metrics"))
	mux.Handle("/metrics/strategies", otelhttp.NewHandler(orchestration.StatsHandler(exec), "workforce.strategy_stats"))
	return mux
}

func port() int {
	if s := os.Getenv("PORT"); s != "" {
		if p, err := strconv.Atoi(s); err == nil && p > 0 {
			return p
		}
	}
	return 8080
}

func demoInterval() time.Duration {
	if s := os.Getenv("WORKFORCE_DEMO_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return 15 * time.Second
}
