package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/repositories"
	tu "github.com/desertthunder/spx/internal/testing"
)

func TestCommitter(t *testing.T) {
	ctx := context.Background()

	stagePlay := func(ctx context.Context, c *Committer, cache *CatalogCache, trackID int64, key models.PlayKey) error {
		return c.Stage(ctx, func(tx repositories.Tx) (Delta, error) {
			if _, err := tx.InsertHistoricalPlay(ctx, &models.HistoricalPlay{TrackID: trackID, PlayedAt: key.PlayedAt, MsPlayed: key.MsPlayed}); err != nil {
				return Delta{}, err
			}
			cache.RecordPlay(key)
			return Delta{Plays: 1}, nil
		})
	}

	t.Run("commit without writes is a no-op", func(t *testing.T) {
		begun := 0
		c := NewCommitter(func(context.Context) (repositories.Tx, error) {
			begun++
			return nil, errors.New("unexpected begin")
		}, NewCatalogCache(), nil, nil)

		d, err := c.Commit(ctx)
		if err != nil || d != (Delta{}) || begun != 0 {
			t.Errorf("expected nothing to happen, got %+v %v after %d begins", d, err, begun)
		}
	})

	t.Run("commit promotes staged writes", func(t *testing.T) {
		store := setupStore(t)
		track := seedPlays(t, store, "seeded")
		cache := NewCatalogCache()
		c := NewCommitter(store.Begin, cache, nil, nil)

		key := models.NewPlayKey(at(0), 1)
		if err := stagePlay(ctx, c, cache, track.ID, key); err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		if !c.Pending() {
			t.Error("expected an open unit")
		}

		d, err := c.Commit(ctx)
		if err != nil || d.Plays != 1 {
			t.Fatalf("Commit() = %+v, %v", d, err)
		}
		if _, plays := cache.Size(); plays != 1 {
			t.Errorf("expected committed play in cache, got %d", plays)
		}
		if n := countRows(t, store.DB(), `SELECT COUNT(*) FROM historical_plays`); n != 1 {
			t.Errorf("expected 1 stored play, got %d", n)
		}
	})

	t.Run("poisoned unit rolls back", func(t *testing.T) {
		store := setupStore(t)
		track := seedPlays(t, store, "seeded")
		cache := NewCatalogCache()
		c := NewCommitter(store.Begin, cache, nil, nil)

		if err := stagePlay(ctx, c, cache, track.ID, models.NewPlayKey(at(0), 1)); err != nil {
			t.Fatalf("Stage() error = %v", err)
		}

		boom := errors.New("boom")
		if err := c.Stage(ctx, func(repositories.Tx) (Delta, error) { return Delta{}, boom }); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		ran := false
		err := c.Stage(ctx, func(repositories.Tx) (Delta, error) {
			ran = true
			return Delta{}, nil
		})
		if ran || !errors.Is(err, boom) {
			t.Errorf("expected stage to be skipped with boom, ran=%v err=%v", ran, err)
		}

		d, err := c.Commit(ctx)
		if !errors.Is(err, boom) || d.Plays != 1 {
			t.Errorf("expected one lost play and boom, got %+v %v", d, err)
		}
		if _, plays := cache.Size(); plays != 0 || cache.IsDuplicatePlay(models.NewPlayKey(at(0), 1)) {
			t.Error("expected rolled back play to be forgotten")
		}
		if n := countRows(t, store.DB(), `SELECT COUNT(*) FROM historical_plays`); n != 0 {
			t.Errorf("expected no stored plays, got %d", n)
		}

		if err := stagePlay(ctx, c, cache, track.ID, models.NewPlayKey(at(1), 1)); err != nil {
			t.Fatalf("expected a fresh unit after rollback, got %v", err)
		}
		if _, err := c.Commit(ctx); err != nil {
			t.Errorf("Commit() error = %v", err)
		}
	})

	t.Run("abort discards", func(t *testing.T) {
		store := setupStore(t)
		track := seedPlays(t, store, "seeded")
		cache := NewCatalogCache()
		c := NewCommitter(store.Begin, cache, nil, nil)

		if err := stagePlay(ctx, c, cache, track.ID, models.NewPlayKey(at(0), 1)); err != nil {
			t.Fatalf("Stage() error = %v", err)
		}
		if d := c.Abort(); d.Plays != 1 {
			t.Errorf("expected 1 aborted play, got %d", d.Plays)
		}
		if c.Pending() {
			t.Error("expected no open unit after abort")
		}
		if n := countRows(t, store.DB(), `SELECT COUNT(*) FROM historical_plays`); n != 0 {
			t.Errorf("expected no stored plays, got %d", n)
		}
	})
}

func TestMaterializeTrack(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback()

	first, created, err := materializeTrack(ctx, tx, tu.FakeTrack("abc"))
	if err != nil || !created {
		t.Fatalf("materializeTrack() = %v, %v", created, err)
	}
	if len(first.Artists) != 2 || first.Artists[0].ExternalID == "artist-feature" {
		t.Errorf("expected primary artist first, got %+v", first.Artists)
	}

	again, created, err := materializeTrack(ctx, tx, tu.FakeTrack("abc"))
	if err != nil || created {
		t.Fatalf("second materializeTrack() = %v, %v", created, err)
	}
	if again.ID != first.ID || len(again.Artists) != 2 {
		t.Errorf("expected existing track with its artists, got %+v", again)
	}
}
