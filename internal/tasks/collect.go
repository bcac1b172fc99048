package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/repositories"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

// RecentLimit is the size of the recently-played page fetched by [Collector.Collect].
const RecentLimit = 50

// PlayStore is the persistence a [Collector] needs.
type PlayStore interface {
	PlayExists(ctx context.Context, playedAt time.Time) (bool, error)
	Begin(ctx context.Context) (repositories.Tx, error)
}

// CollectResult summarizes one collection.
type CollectResult struct {
	Fetched       int `json:"fetched"`
	Inserted      int `json:"inserted"`
	TracksCreated int `json:"tracks_created"`
}

// Collector captures the user's recently-played feed as live plays.
type Collector struct {
	store    PlayStore
	library  services.Library
	governor *Governor
	logger   *log.Logger
}

// NewCollector creates a Collector. A nil governor or logger uses the defaults.
func NewCollector(store PlayStore, library services.Library, governor *Governor, logger *log.Logger) *Collector {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if governor == nil {
		governor = &Governor{MaxRetries: DefaultMaxRetries, DefaultWait: DefaultRetryWait, NetworkWait: DefaultRetryWait, Logger: logger}
	}
	return &Collector{store: store, library: library, governor: governor, logger: logger}
}

// Collect stores every recently-played item newer than the newest play already stored.
//
// The feed is newest first, so the walk stops at the first timestamp the store knows.
// All new plays are written in one transaction.
func (c *Collector) Collect(ctx context.Context, progress chan<- ProgressUpdate) (*CollectResult, error) {
	var items []services.RecentlyPlayedItem
	err := c.governor.Do(ctx, func(ctx context.Context) error {
		var err error
		items, err = c.library.RecentlyPlayed(ctx, RecentLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recently played: %w", err)
	}

	res := &CollectResult{Fetched: len(items)}
	var fresh []services.RecentlyPlayedItem
	for _, item := range items {
		exists, err := c.store.PlayExists(ctx, item.PlayedAt)
		if err != nil {
			return res, err
		}
		if exists {
			break
		}
		fresh = append(fresh, item)
	}
	sendProgress(progress, ProgressUpdate{
		Phase:   CollectRecent,
		Step:    len(fresh),
		Total:   len(items),
		Message: fmt.Sprintf("%d of %d recent plays are new", len(fresh), len(items)),
	})
	if len(fresh) == 0 {
		c.logger.Info("no new plays")
		return res, nil
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	var inserted, created int
	for _, item := range fresh {
		track, err := tx.GetTrackByExternalID(ctx, item.Track.ID)
		if errors.Is(err, shared.ErrNotFound) {
			var isNew bool
			track, isNew, err = materializeTrack(ctx, tx, item.Track)
			if isNew {
				created++
			}
		}
		if err != nil {
			return res, fmt.Errorf("failed to store track %s: %w", item.Track.ID, err)
		}

		ok, err := tx.InsertPlay(ctx, &models.Play{TrackID: track.ID, PlayedAt: item.PlayedAt})
		if err != nil {
			return res, fmt.Errorf("failed to store play at %s: %w", models.FormatTime(item.PlayedAt), err)
		}
		if ok {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Inserted = inserted
	res.TracksCreated = created
	c.logger.Info("collected recent plays", "fetched", res.Fetched, "inserted", res.Inserted, "tracks_created", res.TracksCreated)
	return res, nil
}
