package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

func TestRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("GetTrackByExternalID", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			store := NewStore(setupTestDB(t))

			_, err := store.GetTrackByExternalID(ctx, "missing")
			if !errors.Is(err, shared.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	})

	t.Run("CreateTrack", func(t *testing.T) {
		t.Run("MissingAlbum", func(t *testing.T) {
			store := NewStore(setupTestDB(t))
			tx, err := store.Begin(ctx)
			if err != nil {
				t.Fatalf("failed to begin: %v", err)
			}
			defer tx.Rollback()

			if _, err := tx.CreateTrack(ctx, &models.Track{ExternalID: "t1", Name: "Orphan"}); err == nil {
				t.Fatal("expected error for a track without an album")
			}
		})

		t.Run("UnknownAlbum", func(t *testing.T) {
			store := NewStore(setupTestDB(t))
			tx, err := store.Begin(ctx)
			if err != nil {
				t.Fatalf("failed to begin: %v", err)
			}
			defer tx.Rollback()

			if _, err := tx.CreateTrack(ctx, &models.Track{ExternalID: "t1", Name: "Orphan", AlbumID: 42}); err == nil {
				t.Fatal("expected foreign key violation for an unknown album")
			}
		})
	})

	t.Run("Rollback", func(t *testing.T) {
		t.Run("DiscardsWrites", func(t *testing.T) {
			store := NewStore(setupTestDB(t))
			tx, err := store.Begin(ctx)
			if err != nil {
				t.Fatalf("failed to begin: %v", err)
			}

			if _, err := tx.GetOrCreateAlbum(ctx, models.Album{ExternalID: "al1", Name: "Album"}); err != nil {
				t.Fatalf("failed to create album: %v", err)
			}
			if err := tx.Rollback(); err != nil {
				t.Fatalf("Rollback() error = %v", err)
			}

			c, err := store.Counts(ctx)
			if err != nil {
				t.Fatalf("Counts() error = %v", err)
			}
			if c.Albums != 0 {
				t.Errorf("expected no albums after rollback, got %d", c.Albums)
			}
		})

		t.Run("AfterCommitIsNoop", func(t *testing.T) {
			store := NewStore(setupTestDB(t))
			tx, err := store.Begin(ctx)
			if err != nil {
				t.Fatalf("failed to begin: %v", err)
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			if err := tx.Rollback(); err != nil {
				t.Errorf("Rollback() after commit should be a no-op, got %v", err)
			}
		})

		t.Run("CommitTwice", func(t *testing.T) {
			store := NewStore(setupTestDB(t))
			tx, err := store.Begin(ctx)
			if err != nil {
				t.Fatalf("failed to begin: %v", err)
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			if err := tx.Commit(); !errors.Is(err, shared.ErrCommitFailed) {
				t.Errorf("expected ErrCommitFailed, got %v", err)
			}
		})
	})
}
