package ml

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker is open and calls fast-fail.
var ErrOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// Breaker is a circuit breaker guarding the prediction service. After
// maxFailures consecutive failures it opens and fast-fails calls; after
// resetTimeout one half-open trial is allowed through.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewBreaker creates a circuit breaker.
func NewBreaker(name string, maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op through the breaker.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		slog.Info("circuit breaker half-open", "name", b.name)
	case StateHalfOpen:
		// Only one trial call at a time while half-open.
		b.mu.Unlock()
		return ErrOpen
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			if b.state != StateOpen {
				slog.Warn("circuit breaker opened",
					"name", b.name,
					"failures", b.failures,
					"reset_timeout", b.resetTimeout.String(),
				)
			}
			b.state = StateOpen
			b.openedAt = time.Now()
		}
		return err
	}

	if b.state != StateClosed {
		slog.Info("circuit breaker closed", "name", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	return nil
}
