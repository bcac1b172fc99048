package tasks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/repositories"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
)

// TopStore ranks stored live plays.
type TopStore interface {
	TopTracks(ctx context.Context, start, end time.Time, limit int) ([]repositories.TrackCount, error)
}

// TopResult is the outcome of [TopPicker.Pick]. Track is nil when no plays fell in the window.
type TopResult struct {
	Track *models.Track `json:"track,omitempty"`
	Plays int           `json:"plays"`
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
}

// TopPicker appends the most played track of a recent window to a playlist.
type TopPicker struct {
	store    TopStore
	library  services.Library
	governor *Governor
	logger   *log.Logger
	now      func() time.Time
}

// NewTopPicker creates a TopPicker. A nil governor or logger uses the defaults.
func NewTopPicker(store TopStore, library services.Library, governor *Governor, logger *log.Logger) *TopPicker {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if governor == nil {
		governor = &Governor{MaxRetries: DefaultMaxRetries, DefaultWait: DefaultRetryWait, NetworkWait: DefaultRetryWait, Logger: logger}
	}
	return &TopPicker{store: store, library: library, governor: governor, logger: logger, now: time.Now}
}

// Pick finds the track played most in the window ending now and adds it to playlistID.
func (p *TopPicker) Pick(ctx context.Context, playlistID string, window time.Duration) (*TopResult, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	end := p.now().UTC()
	res := &TopResult{Start: end.Add(-window), End: end}

	top, err := p.store.TopTracks(ctx, res.Start, res.End, 1)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		p.logger.Info("no songs found", "start", res.Start, "end", res.End)
		return res, nil
	}

	track := top[0].Track
	res.Track = &track
	res.Plays = top[0].Plays

	err = p.governor.Do(ctx, func(ctx context.Context) error {
		return p.library.AddToPlaylist(ctx, playlistID, []string{track.URI()})
	})
	if err != nil {
		return res, fmt.Errorf("failed to add %s to playlist: %w", track.ExternalID, err)
	}
	p.logger.Info("added top track to playlist", "track", track.Name, "plays", res.Plays, "playlist", playlistID)
	return res, nil
}
