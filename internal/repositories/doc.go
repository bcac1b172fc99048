// Package repositories implements SQLite persistence for the spx catalog and listening history.
//
// A [Store] serves bulk reads and aggregate queries straight from the connection pool.
// Writes go through a [Tx] obtained from [Store.Begin], so each reconciliation batch commits or
// rolls back as a unit.
//
// Catalog entities are get-or-create: rows are inserted with ON CONFLICT DO NOTHING against the
// UNIQUE(external_id) constraint and then read back, which lets concurrent runs race on the same
// album or artist without producing duplicates. Plays use the same discipline against
// UNIQUE(played_at) and UNIQUE(played_at, ms_played), reporting whether a row was written.
package repositories
