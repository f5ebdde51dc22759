package windowstore

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// CircuitBreakerState represents the state of the circuit breaker guarding
// calls to the window-store backend.
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

// CircuitBreaker trips after a run of backend failures so a struggling
// Redis instance doesn't get hammered by every in-flight task.
type CircuitBreaker struct {
	mutex           sync.RWMutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	maxFailures     int
	resetTimeout    time.Duration
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:        CircuitBreakerClosed,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.canExecute() {
		return errors.New("circuit breaker is open")
	}
	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	switch cb.state {
	case CircuitBreakerClosed:
		return true
	case CircuitBreakerOpen:
		return time.Since(cb.lastFailureTime) >= cb.resetTimeout
	case CircuitBreakerHalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = time.Now()

		switch cb.state {
		case CircuitBreakerClosed:
			if cb.failureCount >= cb.maxFailures {
				cb.state = CircuitBreakerOpen
			}
		case CircuitBreakerHalfOpen:
			cb.state = CircuitBreakerOpen
		}
		return
	}

	cb.successCount++
	switch cb.state {
	case CircuitBreakerClosed:
		cb.failureCount = 0
	case CircuitBreakerHalfOpen:
		if cb.successCount >= 3 {
			cb.state = CircuitBreakerClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	case CircuitBreakerOpen:
		if time.Since(cb.lastFailureTime) >= cb.resetTimeout {
			cb.state = CircuitBreakerHalfOpen
			cb.successCount = 1
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// RetryConfig configures exponential backoff retry for backend calls.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry policy used for window-store calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ErrorHandler wraps backend calls with retry and circuit-breaker logic.
// Transient backend errors are retried; anything else surfaces immediately
// to the caller, which (per the alert engine's failure policy) logs and
// drops that event without side effects.
type ErrorHandler struct {
	circuitBreaker *CircuitBreaker
	retryConfig    RetryConfig
	logger         *logrus.Entry
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(cb *CircuitBreaker, retry RetryConfig, logger *logrus.Entry) *ErrorHandler {
	return &ErrorHandler{circuitBreaker: cb, retryConfig: retry, logger: logger}
}

// ExecuteWithRetry runs fn behind the circuit breaker with exponential
// backoff retry on transient errors.
func (eh *ErrorHandler) ExecuteWithRetry(ctx context.Context, operation string, fn func() error) error {
	return eh.circuitBreaker.Execute(func() error {
		return eh.retryWithBackoff(ctx, operation, fn)
	})
}

func (eh *ErrorHandler) retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= eh.retryConfig.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == eh.retryConfig.MaxRetries {
			break
		}

		delay := eh.calculateDelay(attempt)
		eh.logger.WithError(err).WithField("operation", operation).
			WithField("attempt", attempt+1).Warn("window store operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func (eh *ErrorHandler) calculateDelay(attempt int) time.Duration {
	delay := float64(eh.retryConfig.BaseDelay) * math.Pow(eh.retryConfig.BackoffFactor, float64(attempt))
	if delay > float64(eh.retryConfig.MaxDelay) {
		delay = float64(eh.retryConfig.MaxDelay)
	}
	delay += rand.Float64() * 0.1 * delay
	return time.Duration(delay)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, redis.TxFailedErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"connection refused", "connection reset", "network is unreachable",
		"no route to host", "i/o timeout", "broken pipe", "connection lost",
		"connection closed", "redis: client is closed", "redis: connection pool exhausted",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
