package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/resilience"
)

const eventBuffer = 256

// RedisPublisher exports registry snapshots to Redis for dashboards and
// forwards registry events on a pub/sub channel. It only writes; nothing is
// read back into a registry.
//
// Keys:
//
//	<namespace>:status           RegistryStatus JSON
//	<namespace>:workers:<id>     PerformanceSnapshot JSON
//	<namespace>:events           pub/sub channel of Event JSON
type RedisPublisher struct {
	client    *redis.Client
	registry  *Registry
	namespace string
	ttl       time.Duration
	interval  time.Duration
	logger    core.Logger
	retry     *resilience.RetryConfig
	breaker   *resilience.CircuitBreaker

	events chan Event
}

// NewRedisPublisher connects to cfg.RedisURL and verifies the connection.
func NewRedisPublisher(cfg core.PublisherConfig, reg *Registry, logger core.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, &core.FrameworkError{
			Op:   "registry.NewRedisPublisher",
			Kind: "config",
			Err:  fmt.Errorf("invalid Redis URL: %w", core.ErrInvalidConfiguration),
		}
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = resilience.Retry(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPublisherWithClient(client, cfg, reg, logger), nil
}

// NewRedisPublisherWithClient uses an existing client. Zero-valued config
// fields fall back to namespace "workforce", TTL 5m and interval 30s.
func NewRedisPublisherWithClient(client *redis.Client, cfg core.PublisherConfig, reg *Registry, logger core.Logger) *RedisPublisher {
	p := &RedisPublisher{
		client:    client,
		registry:  reg,
		namespace: cfg.Namespace,
		ttl:       cfg.TTL,
		interval:  cfg.Interval,
		logger:    core.ForComponent(logger, "registry.publisher"),
		retry:     resilience.DefaultRetryConfig(),
		events:    make(chan Event, eventBuffer),
	}
	bcfg := resilience.DefaultCircuitBreakerConfig("redis-publisher")
	bcfg.Logger = logger
	p.breaker = resilience.NewCircuitBreaker(bcfg)
	if p.namespace == "" {
		p.namespace = "workforce"
	}
	if p.ttl <= 0 {
		p.ttl = 5 * time.Minute
	}
	if p.interval <= 0 {
		p.interval = 30 * time.Second
	}
	return p
}

func (p *RedisPublisher) key(parts ...string) string {
	k := p.namespace
	for _, part := range parts {
		k = fmt.Sprintf("%s:%s", k, part)
	}
	return k
}

// StatusKey is the key holding the registry status document.
func (p *RedisPublisher) StatusKey() string { return p.key("status") }

// WorkerKey is the key holding one worker's performance snapshot.
func (p *RedisPublisher) WorkerKey(id string) string { return p.key("workers", id) }

// EventChannel is the pub/sub channel registry events are published on.
func (p *RedisPublisher) EventChannel() string { return p.key("events") }

// Publish writes the current registry status and every worker snapshot in
// a single transaction, retrying transient failures. Each key expires after
// the configured TTL so evicted workers disappear on their own. While Redis
// keeps failing the circuit opens and Publish fails fast with
// resilience.ErrCircuitOpen.
func (p *RedisPublisher) Publish(ctx context.Context) error {
	status := p.registry.GetRegistryStatus()

	statusData, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to serialize registry status: %w", err)
	}
	docs := map[string][]byte{p.StatusKey(): statusData}
	for _, w := range status.Workers {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("failed to serialize metrics for %s: %w", w.WorkerID, err)
		}
		docs[p.WorkerKey(w.WorkerID)] = data
	}

	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, p.retry, func(ctx context.Context) error {
			pipe := p.client.TxPipeline()
			for key, data := range docs {
				pipe.Set(ctx, key, data, p.ttl)
			}
			_, err := pipe.Exec(ctx)
			return err
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		p.logger.Debug("Skipped registry snapshot, Redis circuit open", map[string]interface{}{
			"workers": len(status.Workers),
		})
		return err
	}
	if err != nil {
		p.logger.Error("Failed to publish registry snapshot", map[string]interface{}{
			"error":   err,
			"workers": len(status.Workers),
		})
		return fmt.Errorf("failed to publish registry snapshot: %w", err)
	}

	p.logger.Debug("Published registry snapshot", map[string]interface{}{
		"workers": len(status.Workers),
		"health":  string(status.Health.Status),
	})
	return nil
}

// OnRegistryEvent queues an event for publication. Events are dropped when
// the queue is full so the registry never blocks on Redis.
func (p *RedisPublisher) OnRegistryEvent(e Event) {
	select {
	case p.events <- e:
	default:
		p.logger.Warn("Dropping registry event, publish queue full", map[string]interface{}{
			"event":     string(e.Type),
			"worker_id": e.WorkerID,
		})
	}
}

func (p *RedisPublisher) publishEvent(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, p.EventChannel(), data).Err()
	})
}

// Run subscribes to the registry, publishes a snapshot every interval and
// forwards events until ctx is done. A final snapshot is written on exit.
func (p *RedisPublisher) Run(ctx context.Context) {
	unsubscribe := p.registry.Subscribe(p)
	defer unsubscribe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.Publish(ctx); err != nil {
		p.logger.Warn("Initial snapshot failed", map[string]interface{}{"error": err})
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.Publish(flushCtx)
			cancel()
			return
		case e := <-p.events:
			if err := p.publishEvent(ctx, e); err != nil {
				p.logger.Warn("Failed to publish registry event", map[string]interface{}{
					"event": string(e.Type),
					"error": err,
				})
			}
		case <-ticker.C:
			_ = p.Publish(ctx)
		}
	}
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
