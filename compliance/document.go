/*
Package compliance tracks regulatory documents (certificates, permits,
calibration acts) held by gas stations and buckets them by expiry.

STATUS BUCKETS:
  expired   - ExpiresAt is before today
  expiring  - ExpiresAt is within the warning window (default 30 days)
  valid     - later than that
  no_expiry - no ExpiresAt recorded

Dates are calendar days in UTC; time of day is ignored.
*/
package compliance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultWindowDays is the default "expiring soon" horizon.
const DefaultWindowDays = 30

var ErrDocumentNotFound = errors.New("document not found")

type Status string

const (
	StatusExpired  Status = "expired"
	StatusExpiring Status = "expiring"
	StatusValid    Status = "valid"
	StatusNoExpiry Status = "no_expiry"
)

// Document is one regulatory document of a station.
type Document struct {
	ID        string
	StationID string
	Title     string
	Number    string
	IssuedAt  *time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// DaysLeft returns whole days from today until expiry; negative once expired.
func (d Document) DaysLeft(today time.Time) (int, bool) {
	if d.ExpiresAt == nil {
		return 0, false
	}
	return int(truncateDay(*d.ExpiresAt).Sub(truncateDay(today)).Hours() / 24), true
}

// Classify buckets d relative to today. windowDays <= 0 uses DefaultWindowDays.
func Classify(d Document, today time.Time, windowDays int) Status {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	left, ok := d.DaysLeft(today)
	switch {
	case !ok:
		return StatusNoExpiry
	case left < 0:
		return StatusExpired
	case left <= windowDays:
		return StatusExpiring
	default:
		return StatusValid
	}
}

// SortByExpiry orders documents soonest-expiring first; documents without an
// expiry date go last.
func SortByExpiry(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].ExpiresAt, docs[j].ExpiresAt
		switch {
		case a == nil && b == nil:
			return docs[i].ID < docs[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return docs[i].ID < docs[j].ID
		default:
			return a.Before(*b)
		}
	})
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	SaveDocument(ctx context.Context, d Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, stationID string) ([]Document, error)
}

// MemoryStore is an in-memory Store for tests and dev.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (m *MemoryStore) SaveDocument(_ context.Context, d Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[d.ID] = d
	return nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(m.docs, id)
	return nil
}

// ListDocuments returns documents of one station, or all when stationID is empty.
func (m *MemoryStore) ListDocuments(_ context.Context, stationID string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, d := range m.docs {
		if stationID == "" || d.StationID == stationID {
			out = append(out, d)
		}
	}
	SortByExpiry(out)
	return out, nil
}
