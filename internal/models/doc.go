// Package models defines the catalog and listening-history entities stored by spx.
//
// The package contains two categories of types:
//
// 1. Catalog entities, created lazily and never updated:
//   - [Album] : Collapsed by Spotify album ID
//   - [Artist] : Collapsed by Spotify artist ID
//   - [Track] : One row per Spotify track ID, always attached to its Album
//
// 2. Listening history, append-only:
//   - [Play] : A play captured from the recently-played feed, unique by timestamp
//   - [HistoricalPlay] : A play reconciled from the streaming history export, unique by [PlayKey]
//
// [StreamingRecord] is the input side: one entry of the extended streaming history
// export, read with [ReadStreamingHistory].
package models
