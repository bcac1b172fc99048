package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spx/internal/metrics"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

// Retry defaults used when no import configuration is supplied.
const (
	DefaultMaxRetries = 5
	DefaultRetryWait  = 5 * time.Second
)

// Governor retries remote calls that failed for a reason worth waiting out.
//
// A [*services.RateLimitError] waits for its RetryAfter, or DefaultWait without one.
// An error wrapping [shared.ErrTransient] waits NetworkWait. Anything else fails at once.
// After MaxRetries retries the last error is returned wrapped in [shared.ErrRetriesExhausted].
type Governor struct {
	MaxRetries  int
	DefaultWait time.Duration
	NetworkWait time.Duration

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  *log.Logger
	Metrics *metrics.Recorder
}

// NewGovernor builds a Governor from import settings.
func NewGovernor(conf shared.ImportConfig, logger *log.Logger, rec *metrics.Recorder) *Governor {
	return &Governor{
		MaxRetries:  conf.MaxRetries,
		DefaultWait: conf.RateLimitWait(),
		NetworkWait: conf.NetworkWait(),
		Logger:      logger,
		Metrics:     rec,
	}
}

// Do runs op until it succeeds, fails permanently, or runs out of retries.
func (g *Governor) Do(ctx context.Context, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		wait, reason, ok := g.backoff(err)
		if !ok || ctx.Err() != nil {
			return err
		}
		if attempt >= g.MaxRetries {
			return fmt.Errorf("%w after %d retries: %w", shared.ErrRetriesExhausted, attempt, err)
		}

		if g.Logger != nil {
			g.Logger.Warn("retrying catalog call", "reason", reason, "wait", wait, "attempt", attempt+1, "max_retries", g.MaxRetries, "err", err)
		}
		g.Metrics.Retry(reason)

		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (g *Governor) backoff(err error) (time.Duration, string, bool) {
	var rle *services.RateLimitError
	switch {
	case errors.As(err, &rle):
		if rle.RetryAfter > 0 {
			return rle.RetryAfter, metrics.RetryReasonRateLimit, true
		}
		return g.DefaultWait, metrics.RetryReasonRateLimit, true
	case errors.Is(err, shared.ErrTransient):
		return g.NetworkWait, metrics.RetryReasonTransient, true
	default:
		return 0, "", false
	}
}

func (g *Governor) sleep(ctx context.Context, d time.Duration) error {
	if g.Sleep != nil {
		return g.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
