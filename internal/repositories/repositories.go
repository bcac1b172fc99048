package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is one unit of work against the store.
type Tx interface {
	GetOrCreateAlbum(ctx context.Context, album models.Album) (models.Album, error)
	GetOrCreateArtist(ctx context.Context, artist models.Artist) (models.Artist, error)
	// CreateTrack inserts track and sets its ID. It reports false when another writer already
	// created a track with the same external ID, in which case the ID is that row's.
	CreateTrack(ctx context.Context, track *models.Track) (bool, error)
	LinkArtist(ctx context.Context, trackID, artistID int64, position int) error
	GetTrackByExternalID(ctx context.Context, externalID string) (models.Track, error)
	// InsertHistoricalPlay reports false when a play with the same key already exists.
	InsertHistoricalPlay(ctx context.Context, play *models.HistoricalPlay) (bool, error)
	// InsertPlay reports false when a play at the same timestamp already exists.
	InsertPlay(ctx context.Context, play *models.Play) (bool, error)
	Commit() error
	Rollback() error
}

// Store wraps the catalog database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on an opened and migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin starts a new unit of work.
func (s *Store) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// GetTrackByExternalID reads a track with its artists outside any transaction.
func (s *Store) GetTrackByExternalID(ctx context.Context, externalID string) (models.Track, error) {
	return getTrackByExternalID(ctx, s.db, externalID)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) GetOrCreateAlbum(ctx context.Context, album models.Album) (models.Album, error) {
	return getOrCreateAlbum(ctx, t.tx, album)
}

func (t *sqlTx) GetOrCreateArtist(ctx context.Context, artist models.Artist) (models.Artist, error) {
	return getOrCreateArtist(ctx, t.tx, artist)
}

func (t *sqlTx) CreateTrack(ctx context.Context, track *models.Track) (bool, error) {
	return createTrack(ctx, t.tx, track)
}

func (t *sqlTx) LinkArtist(ctx context.Context, trackID, artistID int64, position int) error {
	return linkArtist(ctx, t.tx, trackID, artistID, position)
}

func (t *sqlTx) GetTrackByExternalID(ctx context.Context, externalID string) (models.Track, error) {
	return getTrackByExternalID(ctx, t.tx, externalID)
}

func (t *sqlTx) InsertHistoricalPlay(ctx context.Context, play *models.HistoricalPlay) (bool, error) {
	return insertHistoricalPlay(ctx, t.tx, play)
}

func (t *sqlTx) InsertPlay(ctx context.Context, play *models.Play) (bool, error) {
	return insertPlay(ctx, t.tx, play)
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrCommitFailed, err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

// inserted reports whether an INSERT ... ON CONFLICT DO NOTHING wrote a row.
func inserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

func notFound(err error, what, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, what, key)
	}
	return fmt.Errorf("failed to read %s %s: %w", what, key, err)
}
