/*
Package sqlite provides a SQLite-backed document store.

PURPOSE:
  Implements billing.Store, billing.VersionedStore and compliance.Store.
  Stations, settlements and the price schedule are each stored as one JSON
  document (a row of the collections table) and always written whole.

KEY TABLES:
  collections:   name -> JSON array body (stations | settlements | prices)
  store_version: single row, bumped by every collection write
  documents:     compliance documents, one row each

FULL-REPLACE WRITES:
  Save* overwrites a collection unconditionally (last writer wins).
  Commit overwrites all three collections only if store_version still equals
  the snapshot version; otherwise billing.ErrConcurrentModification.

CONCURRENCY:
  sync.RWMutex in-process, and a single open connection so ":memory:"
  databases are shared by every query. Transactions take the write lock
  immediately (_txlock=immediate) so version checks cannot interleave.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/compliance"
)

const (
	collectionStations    = "stations"
	collectionSettlements = "settlements"
	collectionPrices      = "prices"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ billing.VersionedStore = (*Store)(nil)
	_ compliance.Store       = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		body_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO store_version (id, version) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		station_id TEXT NOT NULL,
		title TEXT NOT NULL,
		number TEXT,
		issued_at TEXT,
		expires_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_station_expiry
		ON documents(station_id, expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COLLECTIONS (billing.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) LoadStations(ctx context.Context) ([]billing.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, err := readCollection(ctx, s.db, collectionStations)
	if err != nil {
		return nil, err
	}
	return billing.DecodeStations(body)
}

func (s *Store) LoadSettlements(ctx context.Context) ([]billing.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, err := readCollection(ctx, s.db, collectionSettlements)
	if err != nil {
		return nil, err
	}
	return billing.DecodeSettlements(body)
}

func (s *Store) LoadPriceSchedule(ctx context.Context) ([]billing.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, err := readCollection(ctx, s.db, collectionPrices)
	if err != nil {
		return nil, err
	}
	entries, err := billing.DecodePrices(body)
	if err != nil {
		return nil, err
	}
	return billing.NewPriceSchedule(entries).Entries(), nil
}

func (s *Store) SaveStations(ctx context.Context, stations []billing.Station) error {
	body, err := billing.EncodeStations(stations)
	if err != nil {
		return err
	}
	return s.replace(ctx, map[string][]byte{collectionStations: body})
}

func (s *Store) SaveSettlements(ctx context.Context, settlements []billing.Settlement) error {
	body, err := billing.EncodeSettlements(settlements)
	if err != nil {
		return err
	}
	return s.replace(ctx, map[string][]byte{collectionSettlements: body})
}

func (s *Store) SavePriceSchedule(ctx context.Context, entries []billing.PriceEntry) error {
	body, err := billing.EncodePrices(entries)
	if err != nil {
		return err
	}
	return s.replace(ctx, map[string][]byte{collectionPrices: body})
}

// replace writes the given collections and bumps the version without a check.
func (s *Store) replace(ctx context.Context, bodies map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := writeCollections(ctx, tx, bodies); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// VERSIONED STORE (billing.VersionedStore interface)
// =============================================================================

// Snapshot reads all collections and the version in one transaction.
func (s *Store) Snapshot(ctx context.Context) (billing.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Snapshot{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var snap billing.Snapshot
	if snap.Version, err = readVersion(ctx, tx); err != nil {
		return billing.Snapshot{}, err
	}

	body, err := readCollection(ctx, tx, collectionStations)
	if err != nil {
		return billing.Snapshot{}, err
	}
	if snap.Stations, err = billing.DecodeStations(body); err != nil {
		return billing.Snapshot{}, err
	}

	body, err = readCollection(ctx, tx, collectionSettlements)
	if err != nil {
		return billing.Snapshot{}, err
	}
	if snap.Settlements, err = billing.DecodeSettlements(body); err != nil {
		return billing.Snapshot{}, err
	}

	body, err = readCollection(ctx, tx, collectionPrices)
	if err != nil {
		return billing.Snapshot{}, err
	}
	prices, err := billing.DecodePrices(body)
	if err != nil {
		return billing.Snapshot{}, err
	}
	snap.Prices = billing.NewPriceSchedule(prices).Entries()

	return snap, tx.Commit()
}

// Commit writes every collection of snap if the version is unchanged.
func (s *Store) Commit(ctx context.Context, snap billing.Snapshot) error {
	stations, err := billing.EncodeStations(snap.Stations)
	if err != nil {
		return err
	}
	settlements, err := billing.EncodeSettlements(snap.Settlements)
	if err != nil {
		return err
	}
	prices, err := billing.EncodePrices(snap.Prices)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := readVersion(ctx, tx)
	if err != nil {
		return err
	}
	if current != snap.Version {
		return billing.ErrConcurrentModification
	}

	err = writeCollections(ctx, tx, map[string][]byte{
		collectionStations:    stations,
		collectionSettlements: settlements,
		collectionPrices:      prices,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func readVersion(ctx context.Context, db queryer) (int64, error) {
	var v int64
	if err := db.QueryRowContext(ctx, "SELECT version FROM store_version WHERE id = 1").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read store version: %w", err)
	}
	return v, nil
}

func readCollection(ctx context.Context, db queryer, name string) ([]byte, error) {
	var body string
	err := db.QueryRowContext(ctx, "SELECT body_json FROM collections WHERE name = ?", name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return []byte(body), nil
}

func writeCollections(ctx context.Context, db execer, bodies map[string][]byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for name, body := range bodies {
		_, err := db.ExecContext(ctx, `
			INSERT INTO collections (name, body_json, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET body_json = excluded.body_json, updated_at = excluded.updated_at
		`, name, string(body), now)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	if _, err := db.ExecContext(ctx, "UPDATE store_version SET version = version + 1 WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to bump store version: %w", err)
	}
	return nil
}

// =============================================================================
// COMPLIANCE DOCUMENTS (compliance.Store interface)
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, d compliance.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, station_id, title, number, issued_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			station_id = excluded.station_id,
			title = excluded.title,
			number = excluded.number,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at
	`,
		d.ID,
		d.StationID,
		d.Title,
		nullString(d.Number),
		nullDate(d.IssuedAt),
		nullDate(d.ExpiresAt),
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return compliance.ErrDocumentNotFound
	}
	return nil
}

// ListDocuments returns documents of one station, or all when stationID is empty,
// soonest expiry first.
func (s *Store) ListDocuments(ctx context.Context, stationID string) ([]compliance.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, station_id, title, number, issued_at, expires_at, created_at
		FROM documents
		WHERE (? = '' OR station_id = ?)
	`
	rows, err := s.db.QueryContext(ctx, query, stationID, stationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []compliance.Document
	for rows.Next() {
		var (
			d         compliance.Document
			number    sql.NullString
			issuedAt  sql.NullString
			expiresAt sql.NullString
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.StationID, &d.Title, &number, &issuedAt, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.Number = number.String
		d.IssuedAt = parseDate(issuedAt)
		d.ExpiresAt = parseDate(expiresAt)
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	compliance.SortByExpiry(docs)
	return docs, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format("2006-01-02"), Valid: true}
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse("2006-01-02", s.String)
	if err != nil {
		return nil
	}
	return &t
}
