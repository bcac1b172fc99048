package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/repositories"
	"github.com/urfave/cli/v3"
)

type topEntry struct {
	SpotifyID string `json:"spotify_id"`
	Name      string `json:"name"`
	Plays     int    `json:"plays"`
}

type statsReport struct {
	Counts repositories.Counts `json:"counts"`
	Start  time.Time           `json:"start"`
	End    time.Time           `json:"end"`
	Top    []topEntry          `json:"top"`
}

// Stats prints row counts and the most played tracks of the look-back window.
func (r *Runner) Stats(ctx context.Context, cmd *cli.Command) error {
	store, closeStore, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	counts, err := store.Counts(ctx)
	if err != nil {
		return err
	}

	days := cmd.Int("days")
	if days <= 0 {
		days = r.config.Playlist.WindowDays
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	var top []repositories.TrackCount
	if n := cmd.Int("top"); n > 0 {
		if top, err = store.TopTracks(ctx, start, end, n); err != nil {
			return err
		}
	}

	report := statsReport{Counts: counts, Start: start, End: end, Top: []topEntry{}}
	for _, tc := range top {
		report.Top = append(report.Top, topEntry{SpotifyID: tc.Track.ExternalID, Name: tc.Track.Name, Plays: tc.Plays})
	}

	tables := []formatter.Table{formatter.CountsTable(counts)}
	if len(top) > 0 {
		tables = append(tables, formatter.TopTracksTable(fmt.Sprintf("Top tracks, last %d days", days), top))
	}
	return r.writeReport(cmd, report, tables...)
}
