package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/spx/internal/models"
)

// CacheSource is the bulk read used to warm a [CatalogCache].
type CacheSource interface {
	AllTracks(ctx context.Context) ([]models.Track, error)
	AllHistoricalPlayKeys(ctx context.Context) ([]models.PlayKey, error)
}

// CatalogCache is the in-memory view of known tracks and reconciled plays for one run.
//
// Writes recorded during an open transaction go to a pending layer. [CatalogCache.Promote]
// folds that layer into the committed view once the transaction commits and
// [CatalogCache.Discard] drops it after a rollback, so lookups never see rolled-back rows.
type CatalogCache struct {
	tracks map[string]models.Track
	plays  map[models.PlayKey]struct{}

	pendingTracks map[string]models.Track
	pendingPlays  map[models.PlayKey]struct{}
}

// NewCatalogCache returns an empty cache.
func NewCatalogCache() *CatalogCache {
	return &CatalogCache{
		tracks:        make(map[string]models.Track),
		plays:         make(map[models.PlayKey]struct{}),
		pendingTracks: make(map[string]models.Track),
		pendingPlays:  make(map[models.PlayKey]struct{}),
	}
}

// LoadCatalogCache reads every track and historical play key from src, one query each.
func LoadCatalogCache(ctx context.Context, src CacheSource) (*CatalogCache, error) {
	tracks, err := src.AllTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracks: %w", err)
	}
	keys, err := src.AllHistoricalPlayKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load historical plays: %w", err)
	}

	c := NewCatalogCache()
	for _, t := range tracks {
		c.tracks[t.ExternalID] = t
	}
	for _, k := range keys {
		c.plays[k] = struct{}{}
	}
	return c, nil
}

// KnownTrack returns the stored track with the given Spotify ID.
func (c *CatalogCache) KnownTrack(externalID string) (models.Track, bool) {
	if t, ok := c.pendingTracks[externalID]; ok {
		return t, true
	}
	t, ok := c.tracks[externalID]
	return t, ok
}

// IsDuplicatePlay reports whether a play with key is already stored or staged.
func (c *CatalogCache) IsDuplicatePlay(key models.PlayKey) bool {
	if _, ok := c.pendingPlays[key]; ok {
		return true
	}
	_, ok := c.plays[key]
	return ok
}

// RecordTrack registers a track written in the open transaction.
func (c *CatalogCache) RecordTrack(t models.Track) {
	c.pendingTracks[t.ExternalID] = t
}

// RecordPlay registers a play written in the open transaction.
func (c *CatalogCache) RecordPlay(key models.PlayKey) {
	c.pendingPlays[key] = struct{}{}
}

// Promote makes pending writes part of the committed view.
func (c *CatalogCache) Promote() {
	for id, t := range c.pendingTracks {
		c.tracks[id] = t
	}
	for k := range c.pendingPlays {
		c.plays[k] = struct{}{}
	}
	c.Discard()
}

// Discard forgets pending writes.
func (c *CatalogCache) Discard() {
	clear(c.pendingTracks)
	clear(c.pendingPlays)
}

// Size returns the committed track and play counts.
func (c *CatalogCache) Size() (tracks, plays int) {
	return len(c.tracks), len(c.plays)
}
