package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spx/internal/shared"
	"github.com/desertthunder/spx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// PlaylistTop appends the most played track of the look-back window to a playlist.
func (r *Runner) PlaylistTop(ctx context.Context, cmd *cli.Command) error {
	playlistID := cmd.String("playlist")
	if playlistID == "" {
		playlistID = r.config.Playlist.ID
	}
	if playlistID == "" {
		return fmt.Errorf("%w: --playlist or playlist.id", shared.ErrMissingArgument)
	}

	days := cmd.Int("days")
	if days <= 0 {
		days = r.config.Playlist.WindowDays
	}
	window := time.Duration(days) * 24 * time.Hour

	library, err := r.libraryFor(ctx)
	if err != nil {
		return err
	}

	store, closeStore, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	governor := tasks.NewGovernor(r.config.Import, r.logger, r.metrics)
	res, err := tasks.NewTopPicker(store, library, governor, r.logger).Pick(ctx, playlistID, window)
	if res == nil {
		return err
	}

	if res.Track == nil {
		r.writePlain("No songs found in the last %d days\n", days)
		return err
	}

	if err != nil {
		r.writePlain("✗ Top track %s (%d plays) could not be added to %s\n", res.Track.Name, res.Plays, playlistID)
		return err
	}

	r.writePlain("✓ Added %s (%d plays) to playlist %s\n", res.Track.Name, res.Plays, playlistID)
	return nil
}
