package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/desertthunder/spx/internal/shared"
)

// BreakerSettings tunes a [Breaker].
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failed lookups that opens the circuit.
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before a trial lookup is let through.
	Cooldown time.Duration
	// OnStateChange, when set, observes transitions (e.g. for metrics).
	OnStateChange func(from, to gobreaker.State)
}

// Breaker is a circuit breaker around whole catalog lookups.
//
// It guards an operation that already carries its own retries, so one failure is one lookup
// given up on, not one attempt. Lookups that gave up on rate limits count as successes: the
// catalog is up and telling us to slow down. While the circuit is open, guarded operations
// fail fast with [shared.ErrCircuitOpen].
//
// A nil *Breaker runs every operation unguarded.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker creates a closed Breaker.
func NewBreaker(settings BreakerSettings, logger *log.Logger) *Breaker {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "spotify-catalog",
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			var rle *RateLimitError
			return err == nil || errors.As(err, &rle) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			}
			if settings.OnStateChange != nil {
				settings.OnStateChange(from, to)
			}
		},
	})

	return &Breaker{cb: cb}
}

// Do runs op unless the circuit is open.
func (b *Breaker) Do(op func() error) error {
	if b == nil {
		return op()
	}

	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", shared.ErrCircuitOpen, err)
	}
	return err
}

// State reports the breaker state. A nil Breaker is always closed.
func (b *Breaker) State() gobreaker.State {
	if b == nil {
		return gobreaker.StateClosed
	}
	return b.cb.State()
}
