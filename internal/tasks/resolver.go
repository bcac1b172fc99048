package tasks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spx/internal/metrics"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/repositories"
	"github.com/desertthunder/spx/internal/services"
)

// DrainResult is what one [Resolver.Drain] did with its plays.
type DrainResult struct {
	IDs        int
	Plays      int
	NotFound   int
	Duplicates int
	Abandoned  int
	// Staged counts rows written into the open unit. They become durable on the next commit.
	Staged Delta
	// LookupFailed is set when the catalog call failed and the whole batch was abandoned.
	LookupFailed bool
	Err          error
}

// Resolver accumulates plays of unknown tracks and resolves them in bounded catalog lookups.
type Resolver struct {
	catalog   services.Catalog
	governor  *Governor
	breaker   *services.Breaker
	cache     *CatalogCache
	committer *Committer
	logger    *log.Logger
	metrics   *metrics.Recorder
	limit     int

	order []string
	plays map[string][]models.PlayKey
}

// NewResolver creates a Resolver holding at most limit distinct track IDs per lookup.
func NewResolver(catalog services.Catalog, governor *Governor, cache *CatalogCache, committer *Committer, limit int) *Resolver {
	if limit <= 0 || limit > services.MaxLookupIDs {
		limit = services.MaxLookupIDs
	}
	return &Resolver{
		catalog:   catalog,
		governor:  governor,
		cache:     cache,
		committer: committer,
		logger:    log.New(io.Discard),
		limit:     limit,
		plays:     make(map[string][]models.PlayKey),
	}
}

// Add holds a play until its track is resolved and reports whether the batch is full.
func (r *Resolver) Add(trackID string, key models.PlayKey) bool {
	if _, ok := r.plays[trackID]; !ok {
		r.order = append(r.order, trackID)
	}
	r.plays[trackID] = append(r.plays[trackID], key)
	return len(r.order) >= r.limit
}

// Len returns the number of distinct track IDs held.
func (r *Resolver) Len() int {
	return len(r.order)
}

// Discard empties the accumulator and returns the number of plays dropped.
func (r *Resolver) Discard() int {
	n := 0
	for _, keys := range r.plays {
		n += len(keys)
	}
	r.order = nil
	r.plays = make(map[string][]models.PlayKey)
	return n
}

// Drain looks up every held track and stages the new catalog rows and plays.
// The accumulator is empty afterwards, whatever the outcome.
func (r *Resolver) Drain(ctx context.Context) DrainResult {
	ids, plays := r.order, r.plays
	r.order = nil
	r.plays = make(map[string][]models.PlayKey)

	res := DrainResult{IDs: len(ids)}
	for _, keys := range plays {
		res.Plays += len(keys)
	}
	if len(ids) == 0 {
		return res
	}

	var found map[string]services.CatalogTrack
	start := time.Now()
	err := r.breaker.Do(func() error {
		return r.governor.Do(ctx, func(ctx context.Context) error {
			var err error
			found, err = r.catalog.LookupTracks(ctx, ids)
			return err
		})
	})
	r.metrics.Lookup(len(ids), time.Since(start), err)
	if err != nil {
		r.logger.Error("batch abandoned", "ids", len(ids), "plays", res.Plays, "err", err)
		res.LookupFailed = true
		res.Abandoned = res.Plays
		res.Err = err
		return res
	}

	handled := 0
	var d Delta
	err = r.committer.Stage(ctx, func(tx repositories.Tx) (Delta, error) {
		for _, id := range ids {
			keys := plays[id]

			ct, ok := found[id]
			if !ok {
				r.logger.Warn("track not found in catalog", "track_id", id, "plays", len(keys))
				res.NotFound += len(keys)
				handled += len(keys)
				continue
			}

			track, known := r.cache.KnownTrack(id)
			if !known {
				var created bool
				var err error
				track, created, err = materializeTrack(ctx, tx, ct)
				if err != nil {
					return d, fmt.Errorf("failed to store track %s: %w", id, err)
				}
				r.cache.RecordTrack(track)
				if created {
					d.Tracks++
				}
			}

			for _, key := range keys {
				if r.cache.IsDuplicatePlay(key) {
					res.Duplicates++
					handled++
					continue
				}

				ok, err := tx.InsertHistoricalPlay(ctx, &models.HistoricalPlay{TrackID: track.ID, PlayedAt: key.PlayedAt, MsPlayed: key.MsPlayed})
				if err != nil {
					return d, fmt.Errorf("failed to store play %s: %w", key, err)
				}
				r.cache.RecordPlay(key)
				handled++
				if ok {
					d.Plays++
				} else {
					res.Duplicates++
				}
			}
		}
		return d, nil
	})

	res.Staged = d
	if err != nil {
		res.Abandoned = res.Plays - handled
		res.Err = err
	}
	return res
}

// materializeTrack stores the catalog entry ct with its album and artists.
// It reports whether the track row was created by this call.
func materializeTrack(ctx context.Context, tx repositories.Tx, ct services.CatalogTrack) (models.Track, bool, error) {
	album, err := tx.GetOrCreateAlbum(ctx, models.Album{ExternalID: ct.Album.ID, Name: ct.Album.Name, ImageURL: ct.Album.ImageURL})
	if err != nil {
		return models.Track{}, false, err
	}

	track := models.Track{ExternalID: ct.ID, Name: ct.Name, DurationMS: ct.DurationMS, AlbumID: album.ID}
	created, err := tx.CreateTrack(ctx, &track)
	if err != nil {
		return models.Track{}, false, err
	}
	if !created {
		existing, err := tx.GetTrackByExternalID(ctx, ct.ID)
		return existing, false, err
	}

	for i, a := range ct.Artists {
		artist, err := tx.GetOrCreateArtist(ctx, models.Artist{ExternalID: a.ID, Name: a.Name})
		if err != nil {
			return models.Track{}, false, err
		}
		if err := tx.LinkArtist(ctx, track.ID, artist.ID, i); err != nil {
			return models.Track{}, false, err
		}
		track.Artists = append(track.Artists, artist)
	}
	return track, true, nil
}
