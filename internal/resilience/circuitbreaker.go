// Package resilience provides a circuit breaker that fails fast when a model
// or transcription backend keeps erroring.
//
// The breaker never retries and never fails over: a rejected call surfaces
// [ErrCircuitOpen] to the caller, which reports it like any other transport
// failure. Guarded wrappers for [llm.Provider] and [stt.Provider] live in
// guard.go.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probes through.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 1.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the closed/open/half-open pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
	}
}

// Execute runs fn if the breaker admits the call and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	done, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn()
	done(err)
	return err
}

// Allow admits one call. On success the caller must invoke done exactly once
// with the call's outcome. Context cancellation is not counted as a failure.
func (cb *CircuitBreaker) Allow() (done func(error), err error) {
	cb.mu.Lock()
	var changed func()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		changed = cb.transition(StateHalfOpen)
		cb.probes, cb.probeWins = 0, 0
	}
	switch cb.state {
	case StateOpen:
		cb.mu.Unlock()
		return nil, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			fire(changed)
			return nil, ErrCircuitOpen
		}
		cb.probes++
	}
	probe := cb.state == StateHalfOpen
	cb.mu.Unlock()
	fire(changed)

	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.record(probe, err) })
	}, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	cb.mu.Lock()
	var changed func()
	switch {
	case err != nil && probe:
		cb.openedAt = cb.now()
		changed = cb.transition(StateOpen)
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			changed = cb.transition(StateOpen)
		}
	case probe:
		cb.probeWins++
		if cb.state == StateHalfOpen && cb.probeWins >= cb.halfOpenMax {
			cb.failures = 0
			changed = cb.transition(StateClosed)
		}
	default:
		cb.failures = 0
	}
	cb.mu.Unlock()
	fire(changed)
}

// transition switches state and returns the notification to fire once the
// lock is released. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	name, hook := cb.name, cb.onStateChange
	return func() {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", name, "from", from.String(), "to", to.String())
		if hook != nil {
			hook(name, from, to)
		}
	}
}

func fire(f func()) {
	if f != nil {
		f()
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.transition(StateClosed)
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.mu.Unlock()
	fire(changed)
}
