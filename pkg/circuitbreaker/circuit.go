// Package circuitbreaker implements the three-state failure-isolation
// wrapper used by the quota enforcer and by remote-tool call sites.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config configures a Breaker. Zero values are replaced by SetDefaults.
type Config struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int
	OnStateChange    func(name string, from, to State)
}

// SetDefaults fills in the literal defaults from the configuration
// surface: failureThreshold=5, resetTimeoutMs=30000, halfOpenMaxCalls=1.
func (c *Config) SetDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// Breaker is a single named circuit breaker.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failures        int
	lastStateChange time.Time
	halfOpenInUse   int
}

// New creates a Breaker with cfg, applying SetDefaults.
func New(cfg Config) *Breaker {
	cfg.SetDefaults()
	return &Breaker{
		cfg:             cfg,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed right now, transitioning
// OPEN -> HALF_OPEN once ResetTimeout has elapsed and reserving one of
// the bounded half-open trial slots. Callers that receive ok=true MUST
// call Report exactly once for that call.
func (b *Breaker) Allow() (ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastStateChange) >= b.cfg.ResetTimeout {
			b.transitionTo(HalfOpen)
			b.halfOpenInUse = 1
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenInUse >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInUse++
		return true
	default:
		return true
	}
}

// Report records the outcome of a call admitted by Allow. Cancellation
// is never counted as a failure.
func (b *Breaker) Report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen && b.halfOpenInUse > 0 {
		b.halfOpenInUse--
	}

	if err != nil && !arcerrors.IsCancellation(err) {
		b.recordFailure()
		return
	}
	b.recordSuccess()
}

func (b *Breaker) recordFailure() {
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionTo(Open)
		}
	case HalfOpen:
		b.transitionTo(Open)
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.transitionTo(Closed)
	}
}

func (b *Breaker) transitionTo(s State) {
	from := b.state
	b.state = s
	b.failures = 0
	b.lastStateChange = time.Now()
	if s != HalfOpen {
		b.halfOpenInUse = 0
	}
	if b.cfg.OnStateChange != nil && from != s {
		go b.cfg.OnStateChange(b.cfg.Name, from, s)
	}
}

// Reset forces the breaker back to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.halfOpenInUse = 0
	b.lastStateChange = time.Now()
}

// Execute runs fn under breaker protection, reporting its outcome.
// Returns ErrCircuitOpen without invoking fn when the breaker rejects.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return arcerrors.New(arcerrors.CircuitBreakerOpen, b.cfg.Name, arcerrors.ErrCircuitOpen)
	}
	err := fn(ctx)
	b.Report(err)
	return err
}

// ExecuteWithResult runs fn under breaker protection and returns its value.
func ExecuteWithResult[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if !b.Allow() {
		return zero, arcerrors.New(arcerrors.CircuitBreakerOpen, b.cfg.Name, arcerrors.ErrCircuitOpen)
	}
	result, err := fn(ctx)
	b.Report(err)
	return result, err
}

// Stats is a point-in-time snapshot, used by the admin diagnostics
// accessor.
type Stats struct {
	Name     string
	State    State
	Failures int
}

// Stats returns a snapshot of this breaker's state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Name: b.cfg.Name, State: b.state, Failures: b.failures}
}
