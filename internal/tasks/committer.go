package tasks

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spx/internal/metrics"
	"github.com/desertthunder/spx/internal/repositories"
)

// Delta counts rows written in a unit of work.
type Delta struct {
	Plays  int
	Tracks int
}

func (d *Delta) add(o Delta) {
	d.Plays += o.Plays
	d.Tracks += o.Tracks
}

// BeginFunc opens a unit of work.
type BeginFunc func(ctx context.Context) (repositories.Tx, error)

// Committer owns the open unit of work of a run.
//
// Writes are staged with [Committer.Stage], which begins a transaction on first use.
// The first failed write poisons the unit: later stages are skipped and the next
// [Committer.Commit] rolls everything back.
type Committer struct {
	begin   BeginFunc
	cache   *CatalogCache
	logger  *log.Logger
	metrics *metrics.Recorder

	tx     repositories.Tx
	staged Delta
	poison error
}

// NewCommitter creates a Committer that keeps cache in step with each unit's outcome.
func NewCommitter(begin BeginFunc, cache *CatalogCache, logger *log.Logger, rec *metrics.Recorder) *Committer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Committer{begin: begin, cache: cache, logger: logger, metrics: rec}
}

// Stage runs fn inside the open unit. fn reports the rows it wrote even when it fails part way.
func (c *Committer) Stage(ctx context.Context, fn func(repositories.Tx) (Delta, error)) error {
	if c.poison != nil {
		return c.poison
	}
	if c.tx == nil {
		tx, err := c.begin(ctx)
		if err != nil {
			return err
		}
		c.tx = tx
	}

	d, err := fn(c.tx)
	c.staged.add(d)
	if err != nil {
		c.poison = err
		return err
	}
	return nil
}

// Pending reports whether a unit is open.
func (c *Committer) Pending() bool {
	return c.tx != nil
}

// Commit ends the open unit.
//
// On success it returns the rows made durable. Otherwise the unit is rolled back in full and
// the returned delta is what was lost, alongside the reason.
func (c *Committer) Commit(ctx context.Context) (Delta, error) {
	if c.tx == nil {
		return Delta{}, nil
	}
	tx, staged, poison := c.tx, c.staged, c.poison
	c.reset()

	err := poison
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		if err = tx.Commit(); err == nil {
			c.cache.Promote()
			c.metrics.Commit(true)
			return staged, nil
		}
	}

	if rbErr := tx.Rollback(); rbErr != nil {
		c.logger.Error("rollback failed", "err", rbErr)
	}
	c.cache.Discard()
	c.metrics.Commit(false)
	c.logger.Error("unit of work rolled back", "plays", staged.Plays, "tracks", staged.Tracks, "err", err)
	return staged, fmt.Errorf("unit of work rolled back: %w", err)
}

// Abort rolls back the open unit without reporting. Used when the run is cancelled.
func (c *Committer) Abort() Delta {
	if c.tx == nil {
		return Delta{}
	}
	tx, staged := c.tx, c.staged
	c.reset()

	if err := tx.Rollback(); err != nil {
		c.logger.Error("rollback failed", "err", err)
	}
	c.cache.Discard()
	return staged
}

func (c *Committer) reset() {
	c.tx = nil
	c.staged = Delta{}
	c.poison = nil
}
