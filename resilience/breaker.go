package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/workforce/core"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// StateClosed lets every call through.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the sleep window has passed.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier reports whether err counts toward opening the circuit.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts every error except caller cancellation and
// configuration mistakes.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !core.IsConfigurationError(err)
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// SleepWindow is how long the circuit stays open before trial calls.
	SleepWindow time.Duration
	// HalfOpenRequests is the number of concurrent trial calls allowed.
	HalfOpenRequests int
	ErrorClassifier  ErrorClassifier
	Logger           core.Logger
}

// DefaultCircuitBreakerConfig opens after 5 consecutive failures and tries
// again after 30s with a single trial call.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 1,
		ErrorClassifier:  DefaultErrorClassifier,
	}
}

// CircuitBreaker stops calling a failing dependency for a while once it
// has failed FailureThreshold times in a row. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg    CircuitBreakerConfig
	logger core.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trials   int
}

// NewCircuitBreaker builds a breaker. A nil cfg uses the defaults and
// non-positive fields fall back to them.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig("default")
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SleepWindow <= 0 {
		c.SleepWindow = def.SleepWindow
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = def.HalfOpenRequests
	}
	if c.ErrorClassifier == nil {
		c.ErrorClassifier = DefaultErrorClassifier
	}
	return &CircuitBreaker{
		cfg:    c,
		logger: core.ForComponent(c.Logger, "resilience"),
		now:    time.Now,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns an
// error wrapping ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, ok := cb.admit()
	if !ok {
		return fmt.Errorf("%s: %w", cb.cfg.Name, ErrCircuitOpen)
	}
	err := fn(ctx)
	cb.complete(trial, err)
	return err
}

// State returns the current state. An open circuit whose sleep window has
// passed still reports open until the next call is admitted.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trials = 0
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) admit() (trial bool, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.SleepWindow {
			return false, false
		}
		cb.transitionLocked(StateHalfOpen)
	}
	if cb.trials >= cb.cfg.HalfOpenRequests {
		return false, false
	}
	cb.trials++
	return true, true
}

func (cb *CircuitBreaker) complete(trial bool, err error) {
	failed := cb.cfg.ErrorClassifier(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trials--
	}
	if !failed {
		if err == nil {
			cb.failures = 0
			if cb.state == StateHalfOpen {
				cb.transitionLocked(StateClosed)
			}
		}
		return
	}

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.transitionLocked(StateOpen)
	case cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.transitionLocked(StateOpen)
	}
}

// transitionLocked must be called with cb.mu held.
func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}

	fields := map[string]interface{}{
		"name":     cb.cfg.Name,
		"from":     from.String(),
		"to":       to.String(),
		"failures": cb.failures,
	}
	if to == StateOpen {
		cb.logger.Warn("Circuit breaker opened", fields)
		return
	}
	cb.logger.Info("Circuit breaker state changed", fields)
}
