// Package circuitbreaker stops calling a failing dependency for a cool-down
// period and probes it with a few trial calls before resuming.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the position of a breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

const defaultHalfOpenCalls = 3

// CircuitBreaker trips open after maxFailures consecutive failures. Once the
// cool-down elapses it lets halfOpenMaxCalls trial calls through; all of them
// must succeed to close it again, any failure reopens it.
type CircuitBreaker struct {
	name             string
	maxFailures      uint32
	cooldown         time.Duration
	halfOpenMaxCalls uint32
	logger           *logrus.Logger
	now              func() time.Time

	mu          sync.Mutex
	state       State
	failures    uint32
	openedAt    time.Time
	inFlight    uint32
	probeWins   uint32
	requests    uint64
	lastFailure time.Time
}

type Option func(*CircuitBreaker)

func WithLogger(logger *logrus.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = logger }
}

// WithHalfOpenCalls sets how many trial calls must succeed before closing
func WithHalfOpenCalls(n uint32) Option {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenMaxCalls = n
		}
	}
}

func New(name string, maxFailures uint32, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		cooldown:         cooldown,
		halfOpenMaxCalls: defaultHalfOpenCalls,
		logger:           logrus.StandardLogger(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the breaker is open. A context cancellation of the
// caller is not counted as a failure of the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release()
		return err
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advanceLocked()
	switch cb.state {
	case StateOpen:
		return &OpenError{Name: cb.name, State: cb.state}
	case StateHalfOpen:
		if cb.inFlight >= cb.halfOpenMaxCalls {
			return &OpenError{Name: cb.name, State: cb.state}
		}
		cb.inFlight++
	}
	cb.requests++
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.tripLocked()
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.probeWins++
		if cb.probeWins >= cb.halfOpenMaxCalls {
			cb.state = StateClosed
			cb.failures = 0
			cb.inFlight = 0
			cb.probeWins = 0
			cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker closed after successful recovery")
		}
	}
}

// advanceLocked moves an open breaker to half-open once the cool-down is over
func (cb *CircuitBreaker) advanceLocked() {
	if cb.state != StateOpen || cb.now().Sub(cb.openedAt) < cb.cooldown {
		return
	}
	cb.state = StateHalfOpen
	cb.inFlight = 0
	cb.probeWins = 0
	cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker half-open, probing")
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.inFlight = 0
	cb.probeWins = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advanceLocked()
	return cb.state
}

// Stats is a point-in-time snapshot of a breaker
type Stats struct {
	Name        string
	State       State
	Failures    uint32
	Requests    uint64
	LastFailure time.Time
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advanceLocked()
	return Stats{
		Name:        cb.name,
		State:       cb.state,
		Failures:    cb.failures,
		Requests:    cb.requests,
		LastFailure: cb.lastFailure,
	}
}

// OpenError is returned instead of calling the dependency
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsOpen reports whether err was produced by a breaker refusing a call
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
