package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/spx/internal/models"
)

func getOrCreateAlbum(ctx context.Context, q querier, album models.Album) (models.Album, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO albums (external_id, name, image_url) VALUES (?, ?, ?) ON CONFLICT(external_id) DO NOTHING`,
		album.ExternalID, album.Name, album.ImageURL,
	)
	if err != nil {
		return models.Album{}, fmt.Errorf("failed to insert album %s: %w", album.ExternalID, err)
	}

	var a models.Album
	err = q.QueryRowContext(ctx,
		`SELECT id, external_id, name, image_url FROM albums WHERE external_id = ?`, album.ExternalID,
	).Scan(&a.ID, &a.ExternalID, &a.Name, &a.ImageURL)
	if err != nil {
		return models.Album{}, notFound(err, "album", album.ExternalID)
	}
	return a, nil
}

func getOrCreateArtist(ctx context.Context, q querier, artist models.Artist) (models.Artist, error) {
	_, err := q.ExecContext(ctx,
		`INSERT INTO artists (external_id, name) VALUES (?, ?) ON CONFLICT(external_id) DO NOTHING`,
		artist.ExternalID, artist.Name,
	)
	if err != nil {
		return models.Artist{}, fmt.Errorf("failed to insert artist %s: %w", artist.ExternalID, err)
	}

	var a models.Artist
	err = q.QueryRowContext(ctx,
		`SELECT id, external_id, name FROM artists WHERE external_id = ?`, artist.ExternalID,
	).Scan(&a.ID, &a.ExternalID, &a.Name)
	if err != nil {
		return models.Artist{}, notFound(err, "artist", artist.ExternalID)
	}
	return a, nil
}

func createTrack(ctx context.Context, q querier, track *models.Track) (bool, error) {
	if track.AlbumID == 0 {
		return false, fmt.Errorf("track %s has no album", track.ExternalID)
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO tracks (external_id, name, duration_ms, album_id) VALUES (?, ?, ?, ?) ON CONFLICT(external_id) DO NOTHING`,
		track.ExternalID, track.Name, track.DurationMS, track.AlbumID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert track %s: %w", track.ExternalID, err)
	}
	created, err := inserted(res)
	if err != nil {
		return false, err
	}

	if err := q.QueryRowContext(ctx, `SELECT id FROM tracks WHERE external_id = ?`, track.ExternalID).Scan(&track.ID); err != nil {
		return false, notFound(err, "track", track.ExternalID)
	}
	return created, nil
}

func linkArtist(ctx context.Context, q querier, trackID, artistID int64, position int) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO track_artists (track_id, artist_id, position) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		trackID, artistID, position,
	)
	if err != nil {
		return fmt.Errorf("failed to link artist %d to track %d: %w", artistID, trackID, err)
	}
	return nil
}

func getTrackByExternalID(ctx context.Context, q querier, externalID string) (models.Track, error) {
	var t models.Track
	err := q.QueryRowContext(ctx,
		`SELECT id, external_id, name, duration_ms, album_id FROM tracks WHERE external_id = ?`, externalID,
	).Scan(&t.ID, &t.ExternalID, &t.Name, &t.DurationMS, &t.AlbumID)
	if err != nil {
		return models.Track{}, notFound(err, "track", externalID)
	}

	artists, err := trackArtists(ctx, q, t.ID)
	if err != nil {
		return models.Track{}, err
	}
	t.Artists = artists
	return t, nil
}

func trackArtists(ctx context.Context, q querier, trackID int64) ([]models.Artist, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.id, a.external_id, a.name
		FROM track_artists ta
		JOIN artists a ON a.id = ta.artist_id
		WHERE ta.track_id = ?
		ORDER BY ta.position ASC
	`, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artists for track %d: %w", trackID, err)
	}
	defer rows.Close()

	var artists []models.Artist
	for rows.Next() {
		var a models.Artist
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.Name); err != nil {
			return nil, fmt.Errorf("failed to scan artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// AllTracks returns every stored track without artists, for cache warm-up.
func (s *Store) AllTracks(ctx context.Context) ([]models.Track, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, external_id, name, duration_ms, album_id FROM tracks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.Name, &t.DurationMS, &t.AlbumID); err != nil {
			return nil, fmt.Errorf("failed to scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracks: %w", err)
	}
	return tracks, nil
}
