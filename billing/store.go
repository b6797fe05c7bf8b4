/*
store.go - Persistence boundary

PURPOSE:
  The engine keeps no state. Stations, settlements and the price schedule
  live in a document store as three whole collections, each read in full and
  written in full on every mutation.

FULL-REPLACE CONTRACT:
  Save* replaces the entire collection with the slice given. There is no
  partial update and, through Store alone, no conflict detection: two
  concurrent editors overwrite each other (last writer wins).

VERSIONED STORE:
  Implementations may also satisfy VersionedStore. Snapshot returns all three
  collections together with a version; Commit writes them back only if the
  version is unchanged, otherwise ErrConcurrentModification. The settlement
  service prefers this path when available.

IMPLEMENTATIONS:
  - billing/store/memory.go: in-memory, for tests and dev
  - store/sqlite: SQLite, one row per collection
  - store/redis: Redis, one key per collection
*/
package billing

import "context"

// Store loads and saves whole collections.
type Store interface {
	LoadStations(ctx context.Context) ([]Station, error)
	LoadSettlements(ctx context.Context) ([]Settlement, error)
	LoadPriceSchedule(ctx context.Context) ([]PriceEntry, error)

	SaveStations(ctx context.Context, stations []Station) error
	SaveSettlements(ctx context.Context, settlements []Settlement) error
	SavePriceSchedule(ctx context.Context, entries []PriceEntry) error
}

// Snapshot is a consistent read of all collections.
type Snapshot struct {
	Version     int64
	Stations    []Station
	Settlements []Settlement
	Prices      []PriceEntry
}

// VersionedStore adds compare-and-swap on top of Store.
type VersionedStore interface {
	Store

	// Snapshot reads every collection and the current version.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Commit replaces every collection if the stored version still equals
	// snap.Version, and bumps the version. Returns ErrConcurrentModification
	// otherwise.
	Commit(ctx context.Context, snap Snapshot) error
}
