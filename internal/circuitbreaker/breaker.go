// Package circuitbreaker implements a thread-safe circuit breaker guarding
// upstream provider calls. When a provider starts failing, the breaker trips
// after a configurable number of consecutive failures and sheds traffic to
// the remaining providers for an open period before probing again.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// Closed is the normal operating state: requests flow to the provider.
	Closed State = iota
	// Open means the circuit has tripped: the provider is skipped entirely.
	Open
	// HalfOpen allows a single probe request through to test recovery.
	HalfOpen
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultThreshold   = 5
	defaultOpenTimeout = 60 * time.Second
)

// Breaker is a goroutine-safe circuit breaker that tracks consecutive
// provider failures and transitions between Closed, Open, and HalfOpen.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	openTimeout      time.Duration
	openedAt         time.Time
	onStateChange    func(from, to State)

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the number of consecutive failures required to trip
// the breaker from Closed to Open. The default is 5.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithOpenTimeout sets how long the breaker stays Open before the next
// Allow transitions it to HalfOpen. The default is 60 seconds.
func WithOpenTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.openTimeout = d
		}
	}
}

// WithOnStateChange registers a callback that fires on every state
// transition. The callback is invoked while the breaker's mutex is held,
// so it must not call back into the breaker.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// New creates a Breaker in the Closed state with the given options.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:            Closed,
		failureThreshold: defaultThreshold,
		openTimeout:      defaultOpenTimeout,
		nowFunc:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether the next request may be sent to the provider.
//
// Closed always allows. Open rejects until the open timeout has elapsed,
// at which point the breaker moves to HalfOpen and this call is admitted
// as the probe. HalfOpen rejects; exactly one probe is in flight at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.nowFunc().After(b.openedAt.Add(b.openTimeout)) {
			b.setState(HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful provider call. The failure counter is
// zeroed and the breaker closes from any state, so an out-of-band success
// (a request already in flight when the breaker tripped) restores traffic
// without waiting out the timeout.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state != Closed {
		b.setState(Closed)
	}
}

// RecordFailure records a failed provider call. In Closed state it
// increments the consecutive failure counter and trips the breaker at the
// threshold. In HalfOpen state the probe failed, so the breaker reopens
// and the open timer restarts.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++

	switch b.state {
	case Closed:
		if b.failureCount >= b.failureThreshold {
			b.setState(Open)
			b.openedAt = b.nowFunc()
		}
	case HalfOpen:
		b.setState(Open)
		b.openedAt = b.nowFunc()
	}
}

// CurrentState returns the breaker state. In Open state this does NOT
// consult the open timer; use CanExecute or Allow for that.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CanExecute reports whether a request could be admitted right now, without
// mutating the breaker. An Open breaker whose timer has elapsed reports true
// even though the open->half_open transition has not happened yet; the
// transition itself is Allow's job. HalfOpen reports false because the
// single probe slot is already spoken for.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		return b.nowFunc().After(b.openedAt.Add(b.openTimeout))
	default:
		return false
	}
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// setState transitions the breaker and fires the callback if registered.
// Caller must hold b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}
