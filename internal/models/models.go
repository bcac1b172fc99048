package models

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// TimeFormat is the UTC, second precision layout used for every stored timestamp.
const TimeFormat = "2006-01-02T15:04:05Z"

// FormatTime renders t in [TimeFormat].
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeFormat)
}

// ParseTime parses a stored or exported timestamp. Both [TimeFormat] and RFC 3339 are accepted.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
	}
	return t.UTC().Truncate(time.Second), nil
}

// Album is a catalog album keyed by its Spotify ID.
type Album struct {
	ID         int64
	ExternalID string
	Name       string
	ImageURL   string
}

// Artist is a catalog artist keyed by its Spotify ID.
type Artist struct {
	ID         int64
	ExternalID string
	Name       string
}

// Track is a catalog track. Artists are set once, when the track is created.
type Track struct {
	ID         int64
	ExternalID string
	Name       string
	DurationMS int
	AlbumID    int64
	Artists    []Artist
}

// URI returns the Spotify URI used by playlist endpoints.
func (t Track) URI() string {
	return "spotify:track:" + t.ExternalID
}

// PlayKey identifies a historical play. Two plays with equal keys are the same play.
type PlayKey struct {
	PlayedAt time.Time
	MsPlayed int
}

// NewPlayKey normalizes playedAt to UTC seconds so keys built from stored and exported values compare equal.
func NewPlayKey(playedAt time.Time, msPlayed int) PlayKey {
	return PlayKey{PlayedAt: playedAt.UTC().Truncate(time.Second), MsPlayed: msPlayed}
}

func (k PlayKey) String() string {
	return fmt.Sprintf("%s/%dms", FormatTime(k.PlayedAt), k.MsPlayed)
}

// Play is a play from the recently-played feed.
type Play struct {
	ID       int64
	TrackID  int64
	PlayedAt time.Time
}

// HistoricalPlay is a play reconciled from the streaming history export.
type HistoricalPlay struct {
	ID       int64
	TrackID  int64
	PlayedAt time.Time
	MsPlayed int
}

// Key returns the identity of the play.
func (p HistoricalPlay) Key() PlayKey {
	return NewPlayKey(p.PlayedAt, p.MsPlayed)
}

// StreamingRecord is one entry of the extended streaming history export.
//
// Only the fields needed for reconciliation are decoded; the export carries many more.
type StreamingRecord struct {
	Timestamp       string  `json:"ts"`
	MsPlayed        int     `json:"ms_played"`
	SpotifyTrackURI *string `json:"spotify_track_uri"`
	TrackName       string  `json:"master_metadata_track_name,omitempty"`
	ArtistName      string  `json:"master_metadata_album_artist_name,omitempty"`
}

// TrackID returns the catalog ID at the end of the track URI, or "" for non-catalog playback.
func (r StreamingRecord) TrackID() string {
	if r.SpotifyTrackURI == nil {
		return ""
	}
	uri := strings.TrimSpace(*r.SpotifyTrackURI)
	if i := strings.LastIndexAny(uri, ":/"); i >= 0 {
		uri = uri[i+1:]
	}
	return uri
}

// PlayedAt parses the record timestamp.
func (r StreamingRecord) PlayedAt() (time.Time, error) {
	return ParseTime(r.Timestamp)
}

// ReadStreamingHistory decodes the JSON array stored at path.
func ReadStreamingHistory(path string) ([]StreamingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return DecodeStreamingHistory(data)
}

// DecodeStreamingHistory decodes an export file's contents.
func DecodeStreamingHistory(data []byte) ([]StreamingRecord, error) {
	var records []StreamingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode streaming history: %w", err)
	}
	return records, nil
}
