/*
Package settlement orchestrates the billing engine over a document store.

REQUEST FLOW:
  1. Read a snapshot of stations, settlements and prices
  2. Run the pure engine (derive, replay, schedule edits) on the snapshot
  3. Write the whole snapshot back

When the store implements billing.VersionedStore the write is a
compare-and-swap and a concurrent edit fails with
billing.ErrConcurrentModification. Plain billing.Store falls back to
load-all / save-all, where the last writer wins.

MISSING PRICES:
  A period without a covering price is not an error. The settlement is still
  derived (at price 0) and the result carries a warning for the operator.
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/metrics"
)

// Service is safe for concurrent use; it keeps no state besides its
// collaborators.
type Service struct {
	store   billing.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	newID   func() string
}

func NewService(store billing.Store, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		logger:  logger,
		metrics: m,
		newID:   func() string { return uuid.NewString() },
	}
}

// =============================================================================
// SNAPSHOT ACCESS
// =============================================================================

func (s *Service) load(ctx context.Context) (billing.Snapshot, error) {
	if vs, ok := s.store.(billing.VersionedStore); ok {
		return vs.Snapshot(ctx)
	}

	var (
		snap billing.Snapshot
		err  error
	)
	if snap.Stations, err = s.store.LoadStations(ctx); err != nil {
		return billing.Snapshot{}, fmt.Errorf("load stations: %w", err)
	}
	if snap.Settlements, err = s.store.LoadSettlements(ctx); err != nil {
		return billing.Snapshot{}, fmt.Errorf("load settlements: %w", err)
	}
	if snap.Prices, err = s.store.LoadPriceSchedule(ctx); err != nil {
		return billing.Snapshot{}, fmt.Errorf("load prices: %w", err)
	}
	return snap, nil
}

// mutate runs fn on a fresh snapshot and writes the result back whole.
func (s *Service) mutate(ctx context.Context, fn func(*billing.Snapshot) error) error {
	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(&snap); err != nil {
		return err
	}

	if vs, ok := s.store.(billing.VersionedStore); ok {
		if err := vs.Commit(ctx, snap); err != nil {
			if errors.Is(err, billing.ErrConcurrentModification) {
				s.metrics.StoreConflict()
				s.logger.Warn("concurrent modification, write rejected", zap.Int64("version", snap.Version))
			}
			return err
		}
		return nil
	}

	if err := s.store.SaveStations(ctx, snap.Stations); err != nil {
		return fmt.Errorf("save stations: %w", err)
	}
	if err := s.store.SaveSettlements(ctx, snap.Settlements); err != nil {
		return fmt.Errorf("save settlements: %w", err)
	}
	if err := s.store.SavePriceSchedule(ctx, snap.Prices); err != nil {
		return fmt.Errorf("save prices: %w", err)
	}
	return nil
}

func findStation(snap billing.Snapshot, id billing.StationID) (billing.Station, int, error) {
	for i, st := range snap.Stations {
		if st.ID == id {
			return st, i, nil
		}
	}
	return billing.Station{}, -1, fmt.Errorf("%w: %s", billing.ErrStationNotFound, id)
}

func findSettlement(snap billing.Snapshot, key billing.SettlementKey) int {
	for i, st := range snap.Settlements {
		if st.Key() == key {
			return i
		}
	}
	return -1
}

// =============================================================================
// STATIONS
// =============================================================================

// ListStations returns all stations ordered by name.
func (s *Service) ListStations(ctx context.Context) ([]billing.Station, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	stations := snap.Stations
	sort.SliceStable(stations, func(i, j int) bool { return stations[i].Name < stations[j].Name })
	return stations, nil
}

func (s *Service) GetStation(ctx context.Context, id billing.StationID) (billing.Station, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return billing.Station{}, err
	}
	st, _, err := findStation(snap, id)
	return st, err
}

// SaveStation creates the station (assigning an ID when empty) or replaces
// the existing one with the same ID.
func (s *Service) SaveStation(ctx context.Context, station billing.Station) (billing.Station, error) {
	if station.StartDate.IsZero() {
		return billing.Station{}, billing.ErrStationStartRequired
	}
	if station.ID == "" {
		station.ID = billing.StationID(s.newID())
	}

	err := s.mutate(ctx, func(snap *billing.Snapshot) error {
		if _, i, err := findStation(*snap, station.ID); err == nil {
			snap.Stations[i] = station
			return nil
		}
		snap.Stations = append(snap.Stations, station)
		return nil
	})
	if err != nil {
		return billing.Station{}, err
	}

	s.logger.Info("station saved", zap.String("station_id", string(station.ID)))
	return station, nil
}

// UpdateStation replaces an existing station. Unlike SaveStation it never
// inserts: a station deleted in the meantime yields ErrStationNotFound.
func (s *Service) UpdateStation(ctx context.Context, station billing.Station) (billing.Station, error) {
	if station.StartDate.IsZero() {
		return billing.Station{}, billing.ErrStationStartRequired
	}

	err := s.mutate(ctx, func(snap *billing.Snapshot) error {
		_, i, err := findStation(*snap, station.ID)
		if err != nil {
			return err
		}
		snap.Stations[i] = station
		return nil
	})
	if err != nil {
		return billing.Station{}, err
	}

	s.logger.Info("station updated", zap.String("station_id", string(station.ID)))
	return station, nil
}

// DeleteStation removes a station together with all its settlements.
// Compliance documents live in a separate store and are removed by the caller.
func (s *Service) DeleteStation(ctx context.Context, id billing.StationID) error {
	return s.mutate(ctx, func(snap *billing.Snapshot) error {
		_, i, err := findStation(*snap, id)
		if err != nil {
			return err
		}
		snap.Stations = append(snap.Stations[:i], snap.Stations[i+1:]...)

		kept := snap.Settlements[:0]
		for _, st := range snap.Settlements {
			if st.StationID != id {
				kept = append(kept, st)
			}
		}
		snap.Settlements = kept
		return nil
	})
}

// Reset empties all three collections.
func (s *Service) Reset(ctx context.Context) error {
	err := s.mutate(ctx, func(snap *billing.Snapshot) error {
		snap.Stations, snap.Settlements, snap.Prices = nil, nil, nil
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("ledger reset")
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// Preview is a derived settlement with its balance context, as shown to the
// operator before saving.
type Preview struct {
	Settlement     billing.Settlement
	Price          decimal.Decimal
	PriceFound     bool
	BalanceForward decimal.Decimal
	BalanceEnd     decimal.Decimal
	Warnings       []string
}

// ListSettlements returns the station's settlements ordered by period.
func (s *Service) ListSettlements(ctx context.Context, id billing.StationID) ([]billing.Settlement, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if _, _, err := findStation(snap, id); err != nil {
		return nil, err
	}
	return billing.ForStation(id, snap.Settlements), nil
}

func (s *Service) GetSettlement(ctx context.Context, key billing.SettlementKey) (billing.Settlement, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return billing.Settlement{}, err
	}
	i := findSettlement(snap, key)
	if i < 0 {
		return billing.Settlement{}, fmt.Errorf("%w: %s", billing.ErrSettlementNotFound, key)
	}
	return snap.Settlements[i], nil
}

// Preview derives in without saving it.
func (s *Service) Preview(ctx context.Context, in billing.RawInput) (Preview, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return Preview{}, err
	}
	return s.preview(snap, in)
}

// UpsertSettlement derives in and stores it, replacing any record with the
// same station and period.
func (s *Service) UpsertSettlement(ctx context.Context, in billing.RawInput) (Preview, error) {
	var result Preview
	err := s.mutate(ctx, func(snap *billing.Snapshot) error {
		p, err := s.preview(*snap, in)
		if err != nil {
			return err
		}
		if i := findSettlement(*snap, p.Settlement.Key()); i >= 0 {
			snap.Settlements[i] = p.Settlement
		} else {
			snap.Settlements = append(snap.Settlements, p.Settlement)
		}
		result = p
		return nil
	})
	if err != nil {
		return Preview{}, err
	}

	s.metrics.SettlementSaved(string(result.Settlement.Mode()))
	s.logger.Info("settlement saved",
		zap.String("station_id", string(in.StationID)),
		zap.Stringer("period", in.Period),
		zap.String("mode", string(result.Settlement.Mode())),
	)
	return result, nil
}

func (s *Service) DeleteSettlement(ctx context.Context, key billing.SettlementKey) error {
	return s.mutate(ctx, func(snap *billing.Snapshot) error {
		i := findSettlement(*snap, key)
		if i < 0 {
			return fmt.Errorf("%w: %s", billing.ErrSettlementNotFound, key)
		}
		snap.Settlements = append(snap.Settlements[:i], snap.Settlements[i+1:]...)
		return nil
	})
}

func (s *Service) preview(snap billing.Snapshot, in billing.RawInput) (Preview, error) {
	if in.Period.IsZero() {
		return Preview{}, billing.ErrInvalidPeriod
	}
	station, _, err := findStation(snap, in.StationID)
	if err != nil {
		return Preview{}, err
	}

	price, found := billing.NewPriceSchedule(snap.Prices).Lookup(in.Period)
	settlement := in.Parse().WithDerived(price)

	p := Preview{Settlement: settlement, Price: price, PriceFound: found}
	if !found {
		p.Warnings = append(p.Warnings, fmt.Sprintf("price not found for period %s", in.Period))
		s.metrics.MissingPrice()
		s.logger.Warn("price not found",
			zap.String("station_id", string(in.StationID)),
			zap.Stringer("period", in.Period),
		)
	}
	if in.Period.Before(station.StartDate) {
		p.Warnings = append(p.Warnings, fmt.Sprintf("period %s is before station start %s", in.Period, station.StartDate))
	}

	// Replay against history with the candidate in place of any stored record.
	history := make([]billing.Settlement, 0, len(snap.Settlements)+1)
	for _, st := range snap.Settlements {
		if st.Key() != settlement.Key() {
			history = append(history, st)
		}
	}
	history = append(history, settlement)

	if p.BalanceForward, err = billing.BalanceAtStart(station, in.Period, history); err != nil {
		return Preview{}, err
	}
	if p.BalanceEnd, err = billing.BalanceAtEnd(station, in.Period, history); err != nil {
		return Preview{}, err
	}
	return p, nil
}

// =============================================================================
// PRICES
// =============================================================================

func (s *Service) Prices(ctx context.Context) ([]billing.PriceEntry, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Prices, nil
}

// ResolvePrice returns the price effective in p and whether one was found.
func (s *Service) ResolvePrice(ctx context.Context, p billing.Period) (decimal.Decimal, bool, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}
	price, ok := billing.NewPriceSchedule(snap.Prices).Lookup(p)
	return price, ok, nil
}

func (s *Service) AddPrice(ctx context.Context, price decimal.Decimal, start billing.Period) ([]billing.PriceEntry, error) {
	return s.editPrices(ctx, "add", func(ps billing.PriceSchedule) (billing.PriceSchedule, error) {
		return ps.AddPrice(price, start)
	})
}

func (s *Service) UpdatePrice(ctx context.Context, start billing.Period, price decimal.Decimal) ([]billing.PriceEntry, error) {
	return s.editPrices(ctx, "update", func(ps billing.PriceSchedule) (billing.PriceSchedule, error) {
		return ps.UpdatePrice(start, price)
	})
}

func (s *Service) DeletePrice(ctx context.Context, start billing.Period) ([]billing.PriceEntry, error) {
	return s.editPrices(ctx, "delete", func(ps billing.PriceSchedule) (billing.PriceSchedule, error) {
		return ps.DeletePrice(start)
	})
}

func (s *Service) editPrices(ctx context.Context, op string, edit func(billing.PriceSchedule) (billing.PriceSchedule, error)) ([]billing.PriceEntry, error) {
	var entries []billing.PriceEntry
	err := s.mutate(ctx, func(snap *billing.Snapshot) error {
		next, err := edit(billing.NewPriceSchedule(snap.Prices))
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		entries = next.Entries()
		snap.Prices = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PriceChanged(op)
	s.logger.Info("price schedule changed", zap.String("op", op), zap.Int("entries", len(entries)))
	return entries, nil
}

// =============================================================================
// STATEMENT
// =============================================================================

// StatementLine is a replayed period annotated with the price currently
// effective for it.
type StatementLine struct {
	billing.LedgerLine
	Price      decimal.Decimal
	PriceFound bool
}

// Statement is the full ledger of one station.
type Statement struct {
	Station        billing.Station
	Lines          []StatementLine
	ClosingBalance decimal.Decimal
}

func (s *Service) Statement(ctx context.Context, id billing.StationID) (Statement, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return Statement{}, err
	}
	station, _, err := findStation(snap, id)
	if err != nil {
		return Statement{}, err
	}
	lines, err := billing.Replay(station, snap.Settlements)
	if err != nil {
		return Statement{}, err
	}

	schedule := billing.NewPriceSchedule(snap.Prices)
	st := Statement{Station: station, ClosingBalance: station.StartBalance}
	for _, l := range lines {
		price, ok := schedule.Lookup(l.Period)
		st.Lines = append(st.Lines, StatementLine{LedgerLine: l, Price: price, PriceFound: ok})
		st.ClosingBalance = l.BalanceEnd
	}
	return st, nil
}
