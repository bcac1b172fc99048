package services

import (
	"context"
	"fmt"
	"time"
)

// MaxLookupIDs is the most track IDs a single catalog lookup accepts.
const MaxLookupIDs = 50

// Catalog resolves external track IDs to metadata.
type Catalog interface {
	// LookupTracks returns metadata for each ID the catalog knows. IDs it does not know are absent
	// from the result. At most [MaxLookupIDs] IDs may be passed.
	LookupTracks(ctx context.Context, ids []string) (map[string]CatalogTrack, error)
}

// Library reads and writes the authenticated user's listening data.
type Library interface {
	RecentlyPlayed(ctx context.Context, limit int) ([]RecentlyPlayedItem, error)
	AddToPlaylist(ctx context.Context, playlistID string, uris []string) error
}

// CatalogTrack is the metadata for one track.
type CatalogTrack struct {
	ID         string
	Name       string
	DurationMS int
	Album      CatalogAlbum
	Artists    []CatalogArtist
}

// CatalogAlbum is the album a track belongs to.
type CatalogAlbum struct {
	ID       string
	Name     string
	ImageURL string
}

// CatalogArtist is one credited artist, in credit order.
type CatalogArtist struct {
	ID   string
	Name string
}

// RecentlyPlayedItem is one entry of the user's recently-played feed.
type RecentlyPlayedItem struct {
	Track    CatalogTrack
	PlayedAt time.Time
}

// RateLimitError reports an HTTP 429. RetryAfter is zero when the server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
	}
	return "rate limited"
}
