// Package store provides billing.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/station-ledger/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds the three collections in memory. Every read returns a copy and
// every write replaces the collection, matching the document-store contract.
type Memory struct {
	mu          sync.RWMutex
	version     int64
	stations    []billing.Station
	settlements []billing.Settlement
	prices      []billing.PriceEntry
}

func NewMemory() *Memory {
	return &Memory{}
}

var _ billing.VersionedStore = (*Memory)(nil)

func (m *Memory) LoadStations(_ context.Context) ([]billing.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.Station(nil), m.stations...), nil
}

func (m *Memory) LoadSettlements(_ context.Context) ([]billing.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]billing.Settlement(nil), m.settlements...), nil
}

func (m *Memory) LoadPriceSchedule(_ context.Context) ([]billing.PriceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return billing.NewPriceSchedule(m.prices).Entries(), nil
}

func (m *Memory) SaveStations(_ context.Context, stations []billing.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations = append([]billing.Station(nil), stations...)
	m.version++
	return nil
}

func (m *Memory) SaveSettlements(_ context.Context, settlements []billing.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settlements = append([]billing.Settlement(nil), settlements...)
	m.version++
	return nil
}

func (m *Memory) SavePriceSchedule(_ context.Context, entries []billing.PriceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = billing.NewPriceSchedule(entries).Entries()
	m.version++
	return nil
}

// =============================================================================
// VERSIONED ACCESS
// =============================================================================

func (m *Memory) Snapshot(_ context.Context) (billing.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return billing.Snapshot{
		Version:     m.version,
		Stations:    append([]billing.Station(nil), m.stations...),
		Settlements: append([]billing.Settlement(nil), m.settlements...),
		Prices:      billing.NewPriceSchedule(m.prices).Entries(),
	}, nil
}

func (m *Memory) Commit(_ context.Context, snap billing.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Version != m.version {
		return billing.ErrConcurrentModification
	}
	m.stations = append([]billing.Station(nil), snap.Stations...)
	m.settlements = append([]billing.Settlement(nil), snap.Settlements...)
	m.prices = billing.NewPriceSchedule(snap.Prices).Entries()
	m.version++
	return nil
}
