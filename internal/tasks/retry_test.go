package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

func TestGovernor(t *testing.T) {
	ctx := context.Background()
	errPermanent := errors.New("bad request")

	tt := []struct {
		name      string
		errs      []error
		wantCalls int
		wantWaits []time.Duration
		wantErr   error
	}{
		{name: "success", wantCalls: 1},
		{
			name:      "rate limit uses retry after",
			errs:      []error{&services.RateLimitError{RetryAfter: 3 * time.Second}},
			wantCalls: 2,
			wantWaits: []time.Duration{3 * time.Second},
		},
		{
			name:      "rate limit without hint uses default wait",
			errs:      []error{&services.RateLimitError{}},
			wantCalls: 2,
			wantWaits: []time.Duration{5 * time.Second},
		},
		{
			name:      "transient uses network wait",
			errs:      []error{fmt.Errorf("%w: timeout", shared.ErrTransient), fmt.Errorf("%w: reset", shared.ErrTransient)},
			wantCalls: 3,
			wantWaits: []time.Duration{time.Second, time.Second},
		},
		{
			name:      "permanent error fails at once",
			errs:      []error{errPermanent},
			wantCalls: 1,
			wantErr:   errPermanent,
		},
		{
			name:      "open circuit is not retried",
			errs:      []error{shared.ErrCircuitOpen},
			wantCalls: 1,
			wantErr:   shared.ErrCircuitOpen,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var waits []time.Duration
			g := &Governor{
				MaxRetries:  5,
				DefaultWait: 5 * time.Second,
				NetworkWait: time.Second,
				Sleep: func(ctx context.Context, d time.Duration) error {
					waits = append(waits, d)
					return nil
				},
			}

			calls := 0
			err := g.Do(ctx, func(context.Context) error {
				calls++
				if calls <= len(tc.errs) {
					return tc.errs[calls-1]
				}
				return nil
			})

			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("expected %v, got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if calls != tc.wantCalls {
				t.Errorf("expected %d calls, got %d", tc.wantCalls, calls)
			}
			if len(waits) != len(tc.wantWaits) {
				t.Fatalf("expected waits %v, got %v", tc.wantWaits, waits)
			}
			for i := range waits {
				if waits[i] != tc.wantWaits[i] {
					t.Errorf("wait %d: expected %v, got %v", i, tc.wantWaits[i], waits[i])
				}
			}
		})
	}
}

func TestGovernorExhaustion(t *testing.T) {
	var waits []time.Duration
	g := instantGovernor(&waits)

	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return &services.RateLimitError{}
	})

	if !errors.Is(err, shared.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	var rle *services.RateLimitError
	if !errors.As(err, &rle) {
		t.Error("expected the last rate limit error to be wrapped")
	}
	if calls != 6 || len(waits) != 5 {
		t.Errorf("expected 6 calls and 5 waits, got %d and %d", calls, len(waits))
	}
}

func TestGovernorCancellation(t *testing.T) {
	t.Run("cancel during wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(10*time.Millisecond, cancel)

		g := &Governor{MaxRetries: 5, DefaultWait: time.Hour}
		calls := 0
		err := g.Do(ctx, func(context.Context) error {
			calls++
			return &services.RateLimitError{}
		})

		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("cancelled op is not retried", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		g := &Governor{MaxRetries: 5}

		calls := 0
		err := g.Do(ctx, func(context.Context) error {
			calls++
			cancel()
			return fmt.Errorf("%w: aborted", shared.ErrTransient)
		})

		if !errors.Is(err, shared.ErrTransient) || calls != 1 {
			t.Errorf("expected one failed call, got %d calls and %v", calls, err)
		}
	})

	t.Run("zero retries", func(t *testing.T) {
		g := &Governor{MaxRetries: 0}
		err := g.Do(context.Background(), func(context.Context) error {
			return &services.RateLimitError{}
		})
		if !errors.Is(err, shared.ErrRetriesExhausted) {
			t.Errorf("expected ErrRetriesExhausted, got %v", err)
		}
	})
}

func TestNewGovernor(t *testing.T) {
	g := NewGovernor(shared.DefaultConfig().Import, nil, nil)
	if g.MaxRetries != 5 || g.DefaultWait != 5*time.Second || g.NetworkWait != 5*time.Second {
		t.Errorf("unexpected governor %+v", g)
	}
}
