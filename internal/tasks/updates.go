package tasks

import (
	"fmt"
	"path/filepath"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
	Err     error  // Set when the step failed; the run itself continues
}

// Operation phase enumeration
type Phase int

const (
	Discover Phase = iota
	LoadCache
	ReadFile
	ProcessRecords
	Lookup
	CommitBatch
	Finished
	CollectRecent
)

func (p Phase) String() string {
	switch p {
	case Discover:
		return "discover"
	case LoadCache:
		return "load_cache"
	case ReadFile:
		return "read_file"
	case ProcessRecords:
		return "process_records"
	case Lookup:
		return "lookup"
	case CommitBatch:
		return "commit"
	case Finished:
		return "finished"
	case CollectRecent:
		return "collect_recent"
	default:
		return ""
	}
}

// sendProgress delivers u without blocking. Updates are dropped when nobody is reading.
func sendProgress(progress chan<- ProgressUpdate, u ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- u:
	default:
	}
}

func discoverUpdate(files int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Discover,
		Step:    files,
		Total:   files,
		Message: fmt.Sprintf("Found %d history files", files),
	}
}

func loadCacheUpdate(tracks, plays int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadCache,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Loaded %d tracks and %d plays", tracks, plays),
	}
}

func readFileUpdate(step, total int, path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReadFile,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Reading %s...", step, total, filepath.Base(path)),
	}
}

func recordsUpdate(step, total int, path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ProcessRecords,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("%s: %d/%d records", filepath.Base(path), step, total),
	}
}

func lookupUpdate(batch int, res DrainResult) ProgressUpdate {
	msg := fmt.Sprintf("Batch %d: resolved %d tracks", batch, res.IDs)
	if res.LookupFailed {
		msg = fmt.Sprintf("Batch %d: lookup failed, %d plays abandoned", batch, res.Abandoned)
	}
	return ProgressUpdate{
		Phase:   Lookup,
		Step:    batch,
		Total:   batch,
		Message: msg,
		Data:    res,
		Err:     res.Err,
	}
}

func commitUpdate(batch int, d Delta, err error) ProgressUpdate {
	msg := fmt.Sprintf("Committed %d plays, %d new tracks", d.Plays, d.Tracks)
	if err != nil {
		msg = fmt.Sprintf("Rolled back %d plays: %v", d.Plays, err)
	}
	return ProgressUpdate{
		Phase:   CommitBatch,
		Step:    batch,
		Total:   batch,
		Message: msg,
		Data:    d,
		Err:     err,
	}
}

func finishedUpdate(res *ReconcileResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Finished,
		Step:    res.Files,
		Total:   res.Files,
		Message: fmt.Sprintf("✓ Inserted %d plays from %d records", res.Inserted, res.Records),
		Data:    res,
	}
}
