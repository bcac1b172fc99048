// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/spx/internal/services"
)

// FakeCatalog is a scripted [services.Catalog].
//
// Tracks it knows are returned with synthetic album and artist metadata. Errors queued with
// [FakeCatalog.FailNext] are returned, in order, before any successful lookup.
type FakeCatalog struct {
	mu       sync.Mutex
	missing  map[string]bool
	failures []error
	always   error
	calls    [][]string
}

// NewFakeCatalog returns a catalog that knows every ID except those in missing.
func NewFakeCatalog(missing ...string) *FakeCatalog {
	m := make(map[string]bool, len(missing))
	for _, id := range missing {
		m[id] = true
	}
	return &FakeCatalog{missing: m}
}

// FailNext queues errors for the next lookups.
func (f *FakeCatalog) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// FailAlways makes every lookup return err. Nil restores normal behavior.
func (f *FakeCatalog) FailAlways(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always = err
}

// Calls returns the ID sets of every lookup, in order.
func (f *FakeCatalog) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeCatalog) LookupTracks(ctx context.Context, ids []string) (map[string]services.CatalogTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string(nil), ids...))
	if len(ids) > services.MaxLookupIDs {
		return nil, fmt.Errorf("fake catalog: %d ids", len(ids))
	}
	if f.always != nil {
		return nil, f.always
	}
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}

	found := make(map[string]services.CatalogTrack, len(ids))
	for _, id := range ids {
		if f.missing[id] {
			continue
		}
		found[id] = FakeTrack(id)
	}
	return found, nil
}

// FakeTrack is the metadata [FakeCatalog] returns for id. Tracks share albums and artists in
// groups of five so get-or-create collapsing is exercised.
func FakeTrack(id string) services.CatalogTrack {
	group := len(id) % 5
	return services.CatalogTrack{
		ID:         id,
		Name:       "Track " + id,
		DurationMS: 200000,
		Album:      services.CatalogAlbum{ID: fmt.Sprintf("album-%d", group), Name: fmt.Sprintf("Album %d", group)},
		Artists: []services.CatalogArtist{
			{ID: fmt.Sprintf("artist-%d", group), Name: fmt.Sprintf("Artist %d", group)},
			{ID: "artist-feature", Name: "Featured"},
		},
	}
}

// FakeLibrary is a scripted [services.Library].
type FakeLibrary struct {
	mu        sync.Mutex
	Items     []services.RecentlyPlayedItem
	RecentErr error
	AddErr    error
	added     map[string][][]string
}

func (f *FakeLibrary) RecentlyPlayed(ctx context.Context, limit int) ([]services.RecentlyPlayedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RecentErr != nil {
		return nil, f.RecentErr
	}
	if limit < len(f.Items) {
		return append([]services.RecentlyPlayedItem(nil), f.Items[:limit]...), nil
	}
	return append([]services.RecentlyPlayedItem(nil), f.Items...), nil
}

func (f *FakeLibrary) AddToPlaylist(ctx context.Context, playlistID string, uris []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddErr != nil {
		return f.AddErr
	}
	if f.added == nil {
		f.added = make(map[string][][]string)
	}
	f.added[playlistID] = append(f.added[playlistID], append([]string(nil), uris...))
	return nil
}

// Added returns every URI list appended to playlistID, in order.
func (f *FakeLibrary) Added(playlistID string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.added[playlistID]
}

// StreamEntry is one record written by [WriteHistory]. An empty TrackID writes a null URI.
type StreamEntry struct {
	TrackID  string
	PlayedAt time.Time
	MsPlayed int
}

// WriteHistory writes entries as a streaming history export into dir and returns its path.
func WriteHistory(t *testing.T, dir, name string, entries []StreamEntry) string {
	t.Helper()

	type record struct {
		TS       string  `json:"ts"`
		MsPlayed int     `json:"ms_played"`
		URI      *string `json:"spotify_track_uri"`
	}
	records := make([]record, 0, len(entries))
	for _, e := range entries {
		r := record{TS: e.PlayedAt.UTC().Format("2006-01-02T15:04:05Z"), MsPlayed: e.MsPlayed}
		if e.TrackID != "" {
			uri := "spotify:track:" + e.TrackID
			r.URI = &uri
		}
		records = append(records, r)
	}

	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("failed to encode history: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write history: %v", err)
	}
	return path
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// AssertFileExists fails the test when path does not exist.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

// MustReadFile returns the contents of path, failing the test on error.
func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
