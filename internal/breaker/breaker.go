// Package breaker implements a consecutive-failure circuit breaker used in
// front of the engine's optional dependencies (the annotator and the Redis
// publisher). An open breaker fails fast so a slow collaborator cannot
// stall the decision loop.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the cooldown elapses
	StateHalfOpen State = 2 // a single probe call is allowed
)

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

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and rejects calls
// for the cooldown. The first call after the cooldown is a probe: success
// closes the breaker, failure reopens it. Concurrent calls while the probe
// is in flight are rejected.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probing     bool
	rejected    uint64
	lastFailure error

	// OnStateChange is called with the breaker locked; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)
}

// New creates a breaker. maxFailures below 1 is treated as 1.
func New(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() error) error {
	return b.ExecuteContext(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteContext runs fn through the breaker. A context cancelled by the
// caller before fn runs is returned without counting as a failure.
func (b *Breaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.rejected++
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			b.rejected++
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == StateHalfOpen
	b.probing = false

	if err == nil {
		b.failures = 0
		b.lastFailure = nil
		if wasProbe {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	b.lastFailure = err
	if wasProbe || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// CurrentState returns the breaker state. An open breaker whose cooldown
// has elapsed still reports open until the next call probes it.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Rejected            uint64 `json:"rejected"`
	LastError           string `json:"last_error,omitempty"`
}

// Stats returns the current counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		Rejected:            b.rejected,
	}
	if b.lastFailure != nil {
		s.LastError = b.lastFailure.Error()
	}
	return s
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}
