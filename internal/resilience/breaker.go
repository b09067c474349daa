// Package resilience protects outbound tracker calls with per-host circuit
// breakers.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker tracks consecutive failures of one upstream and opens after a
// threshold, rejecting calls until the timeout elapses. Errors for which
// Ignore returns true (for example a 404 or a rejected credential) pass
// through without counting as failures.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	probing     bool
	ignore      func(error) bool
	now         func() time.Time
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration, ignore func(error) bool) *Breaker {
	if ignore == nil {
		ignore = func(error) bool { return false }
	}
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		ignore:      ignore,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open. In half-open state a single
// trial call is let through; concurrent callers are rejected until it ends.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil && !b.ignore(err) {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return err
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.now().Sub(b.openedAt) < b.timeout
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			b.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}

// Set hands out one Breaker per key, typically a tracker base URL, so an
// outage of one Jira site does not block syncs against another.
type Set struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
	ignore      func(error) bool
}

// NewSet creates an empty Set whose breakers share the given settings.
func NewSet(maxFailures int, timeout time.Duration, ignore func(error) bool) *Set {
	return &Set{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		ignore:      ignore,
	}
}

// For returns the breaker for key, creating it on first use.
func (s *Set) For(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.maxFailures, s.timeout, s.ignore)
		s.breakers[key] = b
	}
	return b
}
