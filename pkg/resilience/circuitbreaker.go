package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "mobile-chat/backend/pkg/errors"
	"mobile-chat/backend/pkg/logger"
)

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means the circuit is closed and requests are allowed to pass through
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means the circuit is open and requests are being short-circuited
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means the circuit is allowing a limited number of test requests
	StateHalfOpen CircuitBreakerState = "half-open"
)

// ErrCircuitOpen is returned, as a connection error, while the circuit is open
var ErrCircuitOpen = apperrors.NewConnectionError("circuit open", nil)

// CircuitBreaker implements the Circuit Breaker pattern
type CircuitBreaker struct {
	name             string
	state            CircuitBreakerState
	failureThreshold uint
	successThreshold uint
	timeout          time.Duration
	retryTimeout     time.Duration
	isFailure        func(error) bool
	now              func() time.Time
	mutex            sync.RWMutex
	failureCount     uint
	successCount     uint
	lastFailureTime  time.Time
	nextAttemptTime  time.Time
	log              *logger.Logger
	// Metrics
	totalFailures     uint64
	totalSuccesses    uint64
	consecutiveErrors uint64
	totalRequests     uint64
	openCircuitCount  uint64
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	// Timeout bounds each call. Zero leaves the caller's deadline alone.
	Timeout      time.Duration
	RetryTimeout time.Duration
	// IsFailure decides which errors count against the circuit. Nil counts every error.
	IsFailure func(error) bool
	// Now overrides the clock
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		RetryTimeout:     60 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &CircuitBreaker{
		name:             config.Name,
		state:            StateClosed,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		timeout:          config.Timeout,
		retryTimeout:     config.RetryTimeout,
		isFailure:        config.IsFailure,
		now:              config.Now,
		log:              log.WithComponent("circuit-breaker"),
	}
}

// Execute runs fn through the circuit breaker. It never retries.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		cb.log.Warn("Circuit breaker preventing request",
			"name", cb.name,
			"state", string(cb.GetState()),
		)
		return ErrCircuitOpen
	}

	cb.incrementRequests()

	// Bound the call by the breaker timeout
	if cb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.timeout)
		defer cancel()
	}

	// Start timer for the operation
	startTime := cb.now()

	// Execute the request
	err := fn(ctx)

	// Track the result; errors the predicate ignores still count as success
	if err != nil && cb.isFailure(err) {
		cb.recordFailure()
		cb.log.Warn("Circuit breaker recorded failure",
			"name", cb.name,
			"error", err.Error(),
			"duration", cb.now().Sub(startTime).String(),
		)
		return err
	}

	cb.recordSuccess()
	cb.log.Debug("Circuit breaker recorded success",
		"name", cb.name,
		"duration", cb.now().Sub(startTime).String(),
	)
	return err
}

// allowRequest checks if a request should be allowed to proceed
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		// Check if retry timeout has expired
		if cb.now().Before(cb.nextAttemptTime) {
			return false
		}
		// Try transitioning to half-open
		cb.toHalfOpen()
		return true

	case StateHalfOpen:
		// Allow limited traffic in half-open state
		return cb.successCount < cb.successThreshold
	}

	return false
}

// recordSuccess records a request that did not count as a failure
func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalSuccesses++
	cb.consecutiveErrors = 0

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		// If we've reached the success threshold, transition to closed
		if cb.successCount >= cb.successThreshold {
			cb.toClosed()
		}
	}
}

// recordFailure records a failed request
func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalFailures++
	cb.consecutiveErrors++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		// If we've reached the failure threshold, transition to open
		if cb.failureCount >= cb.failureThreshold {
			cb.toOpen()
		}

	case StateHalfOpen:
		// Any failure in half-open state sends the circuit back to open
		cb.toOpen()
	}
}

// toOpen transitions the circuit breaker to the open state
func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.openCircuitCount++
	cb.nextAttemptTime = cb.now().Add(cb.retryTimeout)

	cb.log.Info("Circuit breaker opened",
		"name", cb.name,
		"failures", cb.failureCount,
		"nextAttempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

// toHalfOpen transitions the circuit breaker to the half-open state
func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.successCount = 0

	cb.log.Info("Circuit breaker half-open", "name", cb.name)
}

// toClosed transitions the circuit breaker to the closed state
func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveErrors = 0

	cb.log.Info("Circuit breaker closed", "name", cb.name)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return cb.state
}

// incrementRequests increments the total request counter
func (cb *CircuitBreaker) incrementRequests() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalRequests++
}

// Stats is a point-in-time snapshot of the breaker's counters
type Stats struct {
	Name              string              `json:"name"`
	State             CircuitBreakerState `json:"state"`
	TotalRequests     uint64              `json:"total_requests"`
	TotalFailures     uint64              `json:"total_failures"`
	TotalSuccesses    uint64              `json:"total_successes"`
	ConsecutiveErrors uint64              `json:"consecutive_errors"`
	OpenCircuitCount  uint64              `json:"open_circuit_count"`
	LastFailureTime   time.Time           `json:"last_failure_time,omitempty"`
}

// Stats returns the breaker's current counters
func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return Stats{
		Name:              cb.name,
		State:             cb.state,
		TotalRequests:     cb.totalRequests,
		TotalFailures:     cb.totalFailures,
		TotalSuccesses:    cb.totalSuccesses,
		ConsecutiveErrors: cb.consecutiveErrors,
		OpenCircuitCount:  cb.openCircuitCount,
		LastFailureTime:   cb.lastFailureTime,
	}
}
