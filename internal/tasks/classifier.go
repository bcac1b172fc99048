package tasks

import (
	"github.com/desertthunder/spx/internal/models"
)

// Decision is what happens to one streaming history record.
type Decision int

const (
	// DecisionSkipLocal drops a record with no catalog track, such as local file playback.
	DecisionSkipLocal Decision = iota
	// DecisionSkipInvalid drops a record whose timestamp cannot be parsed.
	DecisionSkipInvalid
	// DecisionSkipDuplicate drops a record already stored.
	DecisionSkipDuplicate
	// DecisionInsert stores the play against a known track right away.
	DecisionInsert
	// DecisionEnqueue holds the play until its track is resolved.
	DecisionEnqueue
)

func (d Decision) String() string {
	switch d {
	case DecisionSkipLocal:
		return "skip_local"
	case DecisionSkipInvalid:
		return "skip_invalid"
	case DecisionSkipDuplicate:
		return "skip_duplicate"
	case DecisionInsert:
		return "insert"
	case DecisionEnqueue:
		return "enqueue"
	default:
		return "unknown"
	}
}

// Classification is the result of [Classifier.Classify].
type Classification struct {
	Decision Decision
	TrackID  string
	Key      models.PlayKey
	// Track is set for DecisionInsert.
	Track models.Track
}

// Classifier decides what to do with each record from cache state alone.
type Classifier struct {
	cache *CatalogCache
}

// NewClassifier creates a Classifier reading from cache.
func NewClassifier(cache *CatalogCache) Classifier {
	return Classifier{cache: cache}
}

// Classify applies, in order: no track ID, unparseable timestamp, duplicate key, known track.
func (c Classifier) Classify(r models.StreamingRecord) Classification {
	id := r.TrackID()
	if id == "" {
		return Classification{Decision: DecisionSkipLocal}
	}

	playedAt, err := r.PlayedAt()
	if err != nil {
		return Classification{Decision: DecisionSkipInvalid, TrackID: id}
	}

	key := models.NewPlayKey(playedAt, r.MsPlayed)
	if c.cache.IsDuplicatePlay(key) {
		return Classification{Decision: DecisionSkipDuplicate, TrackID: id, Key: key}
	}

	if t, ok := c.cache.KnownTrack(id); ok {
		return Classification{Decision: DecisionInsert, TrackID: id, Key: key, Track: t}
	}
	return Classification{Decision: DecisionEnqueue, TrackID: id, Key: key}
}
