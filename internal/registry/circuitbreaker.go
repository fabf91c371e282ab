package registry

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of one registry's circuit.
type CircuitState int

const (
	// CircuitClosed lets catalog requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails catalog requests fast.
	CircuitOpen
	// CircuitHalfOpen admits one trial request.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default circuit breaker configuration.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// ErrCircuitOpen is wrapped by catalog failures while a circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open: registry temporarily unavailable")

// CircuitBreaker tracks consecutive catalog and probe failures per registry
// address. It is shared by every client built in one process.
type CircuitBreaker struct {
	mu               sync.Mutex
	circuits         map[string]*circuit
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time
}

type circuit struct {
	state       CircuitState
	failures    int
	lastFailure time.Time
	changedAt   time.Time
}

// NewCircuitBreaker returns a breaker that opens after threshold consecutive
// failures and admits a trial request after resetTimeout. A threshold <= 0
// returns nil, which clients treat as disabled.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		return nil
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &CircuitBreaker{
		circuits:         make(map[string]*circuit),
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a request to key may proceed.
func (cb *CircuitBreaker) Allow(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.changedAt) >= cb.resetTimeout {
			c.state = CircuitHalfOpen
			c.changedAt = cb.now()
			return true
		}
		return false
	case CircuitHalfOpen:
		// the trial request is still in flight
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	c.failures = 0
	if c.state != CircuitClosed {
		c.state = CircuitClosed
		c.changedAt = cb.now()
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold. A
// failed trial request reopens it immediately.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(key)
	c.failures++
	c.lastFailure = cb.now()

	switch c.state {
	case CircuitClosed:
		if c.failures >= cb.failureThreshold {
			c.state = CircuitOpen
			c.changedAt = cb.now()
		}
	case CircuitHalfOpen:
		c.state = CircuitOpen
		c.changedAt = cb.now()
	}
}

// State returns the current state for key without changing it.
func (cb *CircuitBreaker) State(key string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c, ok := cb.circuits[key]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && cb.now().Sub(c.changedAt) >= cb.resetTimeout {
		return CircuitHalfOpen
	}
	return c.state
}

// Failures returns the consecutive failure count for key.
func (cb *CircuitBreaker) Failures(key string) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if c, ok := cb.circuits[key]; ok {
		return c.failures
	}
	return 0
}

// Reset forgets key.
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, key)
}

// must hold cb.mu
func (cb *CircuitBreaker) get(key string) *circuit {
	if c, ok := cb.circuits[key]; ok {
		return c
	}
	c := &circuit{state: CircuitClosed, changedAt: cb.now()}
	cb.circuits[key] = c
	return c
}
