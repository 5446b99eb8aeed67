// Package circuitbreaker guards optional dependencies — the Redis binding
// cache and advocate notification channels — so a failing backend is skipped
// instead of slowing the paths that can proceed without it.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	StateClosed   State = iota // requests pass through
	StateOpen                  // backend considered down, requests rejected
	StateHalfOpen              // probing whether the backend recovered
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

// ErrOpen is returned while the breaker rejects requests.
var ErrOpen = errors.New("circuit open")

// Breaker is a consecutive-failure circuit breaker. After Threshold
// consecutive failures it opens for Cooldown, then admits a single probe.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New builds a breaker. threshold <= 0 defaults to 5 failures; cooldown <= 0
// defaults to 30 seconds.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (b *Breaker) SetClock(clock func() time.Time) {
	b.clock = clock
}

// State reports the current state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.clock().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
	}
	return b.state
}

// Do runs fn through the breaker. While open, fn is not called and ErrOpen
// is returned. In half-open state exactly one caller probes; concurrent
// callers are rejected until the probe resolves.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.stateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		// Claim the probe slot by moving back to open; the outcome below
		// decides the real next state.
		b.state = StateOpen
		b.openedAt = b.clock()
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.failures >= b.threshold && b.state != StateOpen {
			b.trip()
		}
		if b.state == StateOpen {
			// Failed probe re-arms the cooldown.
			b.openedAt = b.clock()
		}
		return err
	}

	if b.state != StateClosed {
		slog.Info("circuit closed", "breaker", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	return nil
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.clock()
	slog.Warn("circuit opened", "breaker", b.name, "failures", b.failures)
}
