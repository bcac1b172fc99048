// Package tasks reconciles Spotify streaming history exports into the local catalog.
//
// # Pipeline
//
// [Reconciler.Run] reads each export file in order and passes every record through a
// [Classifier], which decides from the [CatalogCache] alone:
//
//  1. Records without a track URI (local files, podcasts) are skipped
//  2. Records whose (played_at, ms_played) key is already stored are skipped
//  3. Records of a known track are inserted directly
//  4. Everything else waits in the [Resolver] until its track is looked up
//
// The Resolver holds at most 50 distinct track IDs. When full, and at the end of each file,
// it looks them up in one catalog call made through the [Governor], which waits out rate
// limits and transient network errors a bounded number of times. Tracks the catalog does not
// know are dropped with a warning.
//
// # Units of work
//
// Writes are staged on a [Committer]. Each drain is followed by a commit, so a batch and the
// direct inserts before it land in one transaction. A failed write or commit rolls back the
// whole unit, the cache forgets what the unit staged, and the run carries on with the next
// batch.
//
// # Progress Reporting
//
// Runs report [ProgressUpdate]s on an optional channel. Updates use select with default to
// prevent blocking, so a slow reader misses updates rather than stalling the import.
//
// # Live plays
//
// [Collector] stores the recently-played feed and [TopPicker] appends the week's most played
// track to a playlist.
package tasks
