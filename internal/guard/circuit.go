// Package guard holds in-process protection primitives shared by the gateway,
// the card catalog and the result recorder.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/jonboulle/clockwork"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker fails fast for a dependency key after repeated failures.
type CircuitBreaker struct {
	mu            sync.Mutex
	clock         clockwork.Clock
	circuits      map[string]*circuit
	failThreshold int
	resetTimeout  time.Duration
	halfOpenMax   int
}

type circuit struct {
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a circuit breaker with configurable thresholds.
func NewCircuitBreaker(clock clockwork.Clock, failThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		clock:         clock,
		circuits:      make(map[string]*circuit),
		failThreshold: failThreshold,
		resetTimeout:  resetTimeout,
		halfOpenMax:   1,
	}
}

// Check returns whether the circuit for the given key allows a request.
func (cb *CircuitBreaker) Check(_ context.Context, key string) domain.GuardResult {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[key]
	if !ok {
		cb.circuits[key] = &circuit{state: CircuitClosed}
		return domain.GuardResult{Allowed: true}
	}

	switch c.state {
	case CircuitOpen:
		elapsed := cb.clock.Since(c.lastFailure)
		if elapsed > cb.resetTimeout {
			c.state = CircuitHalfOpen
			c.successes = 0
			return domain.GuardResult{Allowed: true}
		}
		return domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("circuit open for %s, resets in %s", key, cb.resetTimeout-elapsed),
			Guard:   "circuit_breaker",
		}
	case CircuitHalfOpen:
		if c.successes >= cb.halfOpenMax {
			return domain.GuardResult{
				Allowed: false,
				Reason:  "circuit half-open, max probes reached",
				Guard:   "circuit_breaker",
			}
		}
		return domain.GuardResult{Allowed: true}
	default:
		return domain.GuardResult{Allowed: true}
	}
}

// State returns the current state for key.
func (cb *CircuitBreaker) State(key string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok := cb.circuits[key]; ok {
		return c.state
	}
	return CircuitClosed
}

// RecordSuccess marks a successful execution for the given key.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[key]
	if !ok {
		return
	}

	switch c.state {
	case CircuitHalfOpen:
		c.successes++
		if c.successes >= cb.halfOpenMax {
			c.state = CircuitClosed
			c.failures = 0
		}
	case CircuitClosed:
		c.failures = 0
	}
}

// RecordFailure marks a failed execution for the given key. A failed probe
// while half-open reopens the circuit.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()
	c, ok := cb.circuits[key]
	if !ok {
		c = &circuit{state: CircuitClosed}
		cb.circuits[key] = c
	}

	c.failures++
	c.lastFailure = now

	if c.state == CircuitHalfOpen || c.failures >= cb.failThreshold {
		c.state = CircuitOpen
	}
}
