package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spx/internal/models"
)

// TrackCount is a track with its number of plays in a window.
type TrackCount struct {
	Track models.Track
	Plays int
}

// Counts summarizes table sizes for the stats command.
type Counts struct {
	Albums          int `json:"albums"`
	Artists         int `json:"artists"`
	Tracks          int `json:"tracks"`
	Plays           int `json:"plays"`
	HistoricalPlays int `json:"historical_plays"`
}

func insertHistoricalPlay(ctx context.Context, q querier, play *models.HistoricalPlay) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO historical_plays (track_id, played_at, ms_played) VALUES (?, ?, ?) ON CONFLICT(played_at, ms_played) DO NOTHING`,
		play.TrackID, models.FormatTime(play.PlayedAt), play.MsPlayed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert historical play %s: %w", play.Key(), err)
	}

	ok, err := inserted(res)
	if err != nil || !ok {
		return false, err
	}
	if play.ID, err = res.LastInsertId(); err != nil {
		return false, fmt.Errorf("failed to read historical play id: %w", err)
	}
	return true, nil
}

func insertPlay(ctx context.Context, q querier, play *models.Play) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO plays (track_id, played_at) VALUES (?, ?) ON CONFLICT(played_at) DO NOTHING`,
		play.TrackID, models.FormatTime(play.PlayedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert play at %s: %w", models.FormatTime(play.PlayedAt), err)
	}

	ok, err := inserted(res)
	if err != nil || !ok {
		return false, err
	}
	if play.ID, err = res.LastInsertId(); err != nil {
		return false, fmt.Errorf("failed to read play id: %w", err)
	}
	return true, nil
}

// AllHistoricalPlayKeys returns the key of every reconciled play, for cache warm-up.
func (s *Store) AllHistoricalPlayKeys(ctx context.Context) ([]models.PlayKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT played_at, ms_played FROM historical_plays`)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical plays: %w", err)
	}
	defer rows.Close()

	var keys []models.PlayKey
	for rows.Next() {
		var (
			playedAt string
			ms       int
		)
		if err := rows.Scan(&playedAt, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan historical play: %w", err)
		}
		at, err := models.ParseTime(playedAt)
		if err != nil {
			return nil, err
		}
		keys = append(keys, models.NewPlayKey(at, ms))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating historical plays: %w", err)
	}
	return keys, nil
}

// PlayExists reports whether a live play was captured at playedAt.
func (s *Store) PlayExists(ctx context.Context, playedAt time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM plays WHERE played_at = ?)`, models.FormatTime(playedAt),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check play: %w", err)
	}
	return exists, nil
}

// TopTracks counts live plays per track in [start, end) and returns the most played first.
// Ties go to the track stored first.
func (s *Store) TopTracks(ctx context.Context, start, end time.Time, limit int) ([]TrackCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.external_id, t.name, t.duration_ms, t.album_id, COUNT(p.id) AS n
		FROM plays p
		JOIN tracks t ON t.id = p.track_id
		WHERE p.played_at >= ? AND p.played_at < ?
		GROUP BY t.id
		ORDER BY n DESC, t.id ASC
		LIMIT ?
	`, models.FormatTime(start), models.FormatTime(end), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tracks: %w", err)
	}
	defer rows.Close()

	var top []TrackCount
	for rows.Next() {
		var tc TrackCount
		if err := rows.Scan(&tc.Track.ID, &tc.Track.ExternalID, &tc.Track.Name, &tc.Track.DurationMS, &tc.Track.AlbumID, &tc.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan top track: %w", err)
		}
		top = append(top, tc)
	}
	return top, rows.Err()
}

// Counts returns the number of rows in each table.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		dest  *int
	}{
		{"albums", &c.Albums},
		{"artists", &c.Artists},
		{"tracks", &c.Tracks},
		{"plays", &c.Plays},
		{"historical_plays", &c.HistoricalPlays},
	}

	for _, target := range targets {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target.table).Scan(target.dest); err != nil {
			return Counts{}, fmt.Errorf("failed to count %s: %w", target.table, err)
		}
	}
	return c, nil
}
