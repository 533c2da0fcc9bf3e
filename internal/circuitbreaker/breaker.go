// Package circuitbreaker stops calling an exchange after repeated failures
// and tries it again once a cool-down has passed.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"nakula/pkg/core"
)

type State int32

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

type Config struct {
	// FailThreshold is the number of consecutive failures that opens the breaker.
	FailThreshold int `json:"fail_threshold"`
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// ConfigFrom takes the breaker settings of a session config.
func ConfigFrom(cfg *core.Config) Config {
	return Config{
		FailThreshold:    cfg.CircuitBreakerFailThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
	}
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets the clock measuring the open cool-down.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) {
		b.clock = c
	}
}

// OnStateChange registers a hook called on every transition, outside the lock.
func OnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

type Breaker struct {
	mu        sync.Mutex
	clock     clock.Clock
	cfg       Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	onChange  func(from, to State)

	allowed  int64
	rejected int64
	changes  int32
}

func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		clock: clock.New(),
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow returns nil when a call may proceed and ErrCircuitBreakerOpen while
// the breaker is open. Once the timeout has elapsed the breaker turns
// half-open and lets trial calls through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	b.refresh()
	to := b.state
	if to == StateOpen {
		b.rejected++
		retryIn := b.cfg.Timeout - b.clock.Since(b.openedAt)
		b.mu.Unlock()
		return fmt.Errorf("retry in %s: %w", retryIn.Round(time.Millisecond), core.ErrCircuitBreakerOpen)
	}
	b.allowed++
	b.mu.Unlock()
	b.notify(from, to)
	return nil
}

// Record reports the outcome of an allowed call.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	from := b.state
	b.refresh()
	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.cfg.FailThreshold {
				b.open()
			}
		}
	case StateHalfOpen:
		if success {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		} else {
			b.open()
		}
	case StateOpen:
		// late result of a call admitted before the breaker opened
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// refresh moves an expired open breaker to half-open. Callers hold mu.
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.clock.Since(b.openedAt) >= b.cfg.Timeout {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) open() {
	b.openedAt = b.clock.Now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	if b.state != to {
		b.changes++
	}
	b.state = to
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}

// State returns the current state, accounting for an elapsed cool-down.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.clock.Since(b.openedAt) >= b.cfg.Timeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	b.transition(StateClosed)
	b.mu.Unlock()
}

// Stats is a point-in-time capture of breaker activity.
type Stats struct {
	Allowed      int64
	Rejected     int64
	StateChanges int32
	State        string
}

func (b *Breaker) Stats() Stats {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Allowed:      b.allowed,
		Rejected:     b.rejected,
		StateChanges: b.changes,
		State:        state.String(),
	}
}
