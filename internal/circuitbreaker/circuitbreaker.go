package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jia-app/recoveryservice/internal/metrics"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker
type State int

const (
	// StateClosed means calls are allowed
	StateClosed State = iota
	// StateOpen means calls are rejected
	StateOpen
	// StateHalfOpen means probe calls are allowed to test recovery
	StateHalfOpen
)

// String returns a string representation of the state
func (s State) String() string {
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

// Config holds circuit breaker configuration
type Config struct {
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures int
	// Timeout is the wait before an open circuit allows a probe call
	Timeout time.Duration
	// SuccessThreshold is the number of probe successes needed to close
	SuccessThreshold int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		SuccessThreshold: 3,
	}
}

// CircuitBreaker guards calls to an external collaborator. Repeated
// failures open the circuit; after the timeout a probe call decides
// whether it closes again.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	config          Config
	logger          *zap.Logger
	name            string
}

// New creates a new circuit breaker
func New(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:  StateClosed,
		config: config,
		logger: logger,
		name:   name,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Execute runs fn under circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.record(err)
	return err
}

// allow decides whether a call may proceed, moving an expired open
// circuit to half-open.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailureTime) < cb.config.Timeout {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.successCount = 0
	}
	return true
}

// record updates the breaker with the outcome of one call.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if err != nil {
			cb.failureCount++
			cb.lastFailureTime = time.Now()
			if cb.failureCount >= cb.config.MaxFailures {
				cb.setState(StateOpen)
				cb.logger.Error("Circuit breaker opened",
					zap.String("name", cb.name),
					zap.Int("failure_count", cb.failureCount),
					zap.Error(err))
			}
		} else {
			cb.failureCount = 0
		}

	case StateHalfOpen:
		if err != nil {
			cb.failureCount = cb.config.MaxFailures
			cb.lastFailureTime = time.Now()
			cb.setState(StateOpen)
			cb.logger.Error("Circuit breaker re-opened after half-open failure",
				zap.String("name", cb.name),
				zap.Error(err))
		} else {
			cb.successCount++
			if cb.successCount >= cb.config.SuccessThreshold {
				cb.failureCount = 0
				cb.successCount = 0
				cb.setState(StateClosed)
				cb.logger.Info("Circuit breaker closed after successful recovery",
					zap.String("name", cb.name))
			}
		}
	}
}

// setState changes state and keeps the gauge current. Caller holds the
// lock.
func (cb *CircuitBreaker) setState(s State) {
	cb.state = s
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(s))
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
}
