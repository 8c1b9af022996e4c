package faults

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// CircuitBreaker guards one class of operation. Consecutive failures open
// the circuit; after the cooldown a probing call is let through and its
// outcome decides whether the circuit closes again.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

func NewBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{name: name, cfg: cfg, state: BreakerClosed}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// CanExecute reports whether a call may proceed. While open it returns false
// until the cooldown has elapsed, at which point the breaker moves to
// half-open and admits the probing call.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state != BreakerOpen
}

func (b *CircuitBreaker) maybeHalfOpen() {
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.cfg.Timeout {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}

func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		// One failed probe reopens immediately.
		b.state = BreakerOpen
		b.successes = 0
	}
}

// Execute wraps op with the breaker. When the circuit is open it returns a
// CIRCUIT_OPEN error without invoking op.
func (b *CircuitBreaker) Execute(op func() error) error {
	if !b.CanExecute() {
		return New(CircuitOpen).WithComponent(b.name)
	}
	if err := op(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
