package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/desertthunder/spx/internal/shared"
)

func TestBreaker(t *testing.T) {
	t.Run("passes results through", func(t *testing.T) {
		b := NewBreaker(BreakerSettings{MaxFailures: 2, Cooldown: time.Minute}, nil)
		ran := false
		if err := b.Do(func() error { ran = true; return nil }); err != nil || !ran {
			t.Errorf("unexpected result ran=%v err=%v", ran, err)
		}
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		calls := 0
		failing := func() error {
			calls++
			return fmt.Errorf("%w: %w", shared.ErrRetriesExhausted, shared.ErrTransient)
		}
		var transitions []gobreaker.State
		b := NewBreaker(BreakerSettings{
			MaxFailures:   2,
			Cooldown:      time.Minute,
			OnStateChange: func(_, to gobreaker.State) { transitions = append(transitions, to) },
		}, nil)

		for i := range 2 {
			if err := b.Do(failing); !errors.Is(err, shared.ErrTransient) {
				t.Fatalf("call %d: expected underlying error, got %v", i, err)
			}
		}

		err := b.Do(failing)
		if !errors.Is(err, shared.ErrCircuitOpen) {
			t.Fatalf("expected ErrCircuitOpen, got %v", err)
		}
		if calls != 2 {
			t.Errorf("expected open circuit to short-circuit, got %d calls", calls)
		}
		if b.State() != gobreaker.StateOpen {
			t.Errorf("expected open state, got %v", b.State())
		}
		if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
			t.Errorf("unexpected transitions %v", transitions)
		}
	})

	t.Run("rate limits do not trip the circuit", func(t *testing.T) {
		b := NewBreaker(BreakerSettings{MaxFailures: 1, Cooldown: time.Minute}, nil)

		for i := range 5 {
			var rle *RateLimitError
			err := b.Do(func() error {
				return fmt.Errorf("%w: %w", shared.ErrRetriesExhausted, &RateLimitError{RetryAfter: time.Second})
			})
			if !errors.As(err, &rle) {
				t.Fatalf("call %d: expected RateLimitError, got %v", i, err)
			}
		}
		if b.State() != gobreaker.StateClosed {
			t.Errorf("expected closed state, got %v", b.State())
		}
	})

	t.Run("cancellation does not trip the circuit", func(t *testing.T) {
		b := NewBreaker(BreakerSettings{MaxFailures: 1, Cooldown: time.Minute}, nil)
		_ = b.Do(func() error { return context.Canceled })
		if b.State() != gobreaker.StateClosed {
			t.Errorf("expected closed state, got %v", b.State())
		}
	})

	t.Run("nil breaker runs unguarded", func(t *testing.T) {
		var b *Breaker
		want := errors.New("boom")
		if err := b.Do(func() error { return want }); !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
		if b.State() != gobreaker.StateClosed {
			t.Errorf("expected closed state, got %v", b.State())
		}
	})
}
