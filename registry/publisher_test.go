package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/workforce/core"
	"github.com/itsneelabh/workforce/resilience"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}

func newTestPublisher(t *testing.T) (*RedisPublisher, *Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, client := setupTestRedis(t)
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	reg := newTestRegistry(t, nil)
	pub := NewRedisPublisherWithClient(client, core.PublisherConfig{Namespace: "test"}, reg, nil)
	return pub, reg, mr
}

func TestRedisPublisherPublish(t *testing.T) {
	pub, reg, mr := newTestPublisher(t)
	mustRegister(t, reg, "alpha", core.Profile{})
	mustRegister(t, reg, "beta", core.Profile{})
	require.NoError(t, reg.RecordTaskCompletion("alpha", "t1", core.Result{}, 250*time.Millisecond))

	require.NoError(t, pub.Publish(context.Background()))

	assert.Equal(t, "test:status", pub.StatusKey())
	raw, err := mr.Get(pub.StatusKey())
	require.NoError(t, err)

	var status RegistryStatus
	require.NoError(t, json.Unmarshal([]byte(raw), &status))
	assert.Equal(t, 2, status.TotalWorkers)
	assert.Equal(t, HealthHealthy, status.Health.Status)

	raw, err = mr.Get(pub.WorkerKey("alpha"))
	require.NoError(t, err)
	var snap PerformanceSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))
	assert.Equal(t, "alpha", snap.WorkerID)
	assert.Equal(t, 1, snap.TaskCount)
	assert.Equal(t, 250*time.Millisecond, snap.AverageLatency)

	assert.Equal(t, 5*time.Minute, mr.TTL(pub.StatusKey()))
	assert.Equal(t, 5*time.Minute, mr.TTL(pub.WorkerKey("beta")))
}

func TestRedisPublisherSnapshotsExpire(t *testing.T) {
	pub, reg, mr := newTestPublisher(t)
	mustRegister(t, reg, "alpha", core.Profile{})
	require.NoError(t, pub.Publish(context.Background()))

	mr.FastForward(6 * time.Minute)
	assert.False(t, mr.Exists(pub.WorkerKey("alpha")))
}

func TestRedisPublisherEvents(t *testing.T) {
	pub, _, mr := newTestPublisher(t)

	pub.OnRegistryEvent(Event{Type: EventRegistered, WorkerID: "alpha"})
	require.Len(t, pub.events, 1)

	e := <-pub.events
	require.NoError(t, pub.publishEvent(context.Background(), e))
	assert.Equal(t, "test:events", pub.EventChannel())
	assert.False(t, mr.Exists(pub.EventChannel()), "events are published, not stored")
}

func TestRedisPublisherDropsWhenQueueFull(t *testing.T) {
	pub, _, _ := newTestPublisher(t)

	for i := 0; i < eventBuffer+10; i++ {
		pub.OnRegistryEvent(Event{Type: EventTaskCompleted, WorkerID: "w"})
	}
	assert.Len(t, pub.events, eventBuffer)
}

func TestRedisPublisherRun(t *testing.T) {
	pub, reg, mr := newTestPublisher(t)
	mustRegister(t, reg, "alpha", core.Profile{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pub.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return mr.Exists(pub.StatusKey())
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestNewRedisPublisher(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	reg := newTestRegistry(t, nil)

	pub, err := NewRedisPublisher(core.PublisherConfig{RedisURL: "redis://" + mr.Addr()}, reg, nil)
	require.NoError(t, err)
	defer pub.Close()
	assert.Equal(t, "workforce:status", pub.StatusKey())

	_, err = NewRedisPublisher(core.PublisherConfig{RedisURL: "not a url"}, reg, nil)
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestRedisPublisherRetriesTransientFailures(t *testing.T) {
	pub, _, mr := newTestPublisher(t)
	pub.retry = &resilience.RetryConfig{MaxAttempts: 20, InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 1}

	mr.SetError("LOADING Redis is loading the dataset in memory")
	go func() {
		time.Sleep(30 * time.Millisecond)
		mr.SetError("")
	}()

	require.NoError(t, pub.Publish(context.Background()))
	assert.True(t, mr.Exists(pub.StatusKey()))
}

func TestRedisPublisherGivesUp(t *testing.T) {
	pub, _, mr := newTestPublisher(t)
	pub.retry = &resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 1}

	mr.SetError("READONLY")
	err := pub.Publish(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)
}

func TestRedisPublisherCircuitOpensOnRepeatedFailures(t *testing.T) {
	pub, reg, mr := newTestPublisher(t)
	mustRegister(t, reg, "alpha", core.Profile{})
	pub.retry = &resilience.RetryConfig{MaxAttempts: 1}
	pub.breaker = resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "redis-publisher",
		FailureThreshold: 2,
		SleepWindow:      50 * time.Millisecond,
	})
	ctx := context.Background()

	mr.SetError("READONLY")
	require.Error(t, pub.Publish(ctx))
	require.Error(t, pub.publishEvent(ctx, Event{Type: EventRegistered, WorkerID: "alpha"}))
	assert.Equal(t, resilience.StateOpen, pub.breaker.State())

	mr.SetError("")
	assert.ErrorIs(t, pub.Publish(ctx), resilience.ErrCircuitOpen)
	assert.ErrorIs(t, pub.publishEvent(ctx, Event{Type: EventRegistered, WorkerID: "alpha"}), resilience.ErrCircuitOpen)
	assert.False(t, mr.Exists(pub.StatusKey()), "nothing is written while the circuit is open")

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, pub.Publish(ctx))
	assert.True(t, mr.Exists(pub.StatusKey()))
	assert.Equal(t, resilience.StateClosed, pub.breaker.State())
}
