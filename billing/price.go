/*
price.go - Period-keyed gas price schedule

INVARIANTS:
  1. Entries are ordered by Start.
  2. At most one entry is open-ended (End == nil) and it is the last one.
  3. Intervals do not overlap: entry i ends the month before entry i+1 starts.

All mutating methods return a new schedule and leave the receiver untouched,
so a schedule snapshot loaded from the store can be edited optimistically and
discarded on validation failure.

EXAMPLE:
  [{100, 2024-01, open}].AddPrice(120, 2024-06)
  => [{100, 2024-01, 2024-05}, {120, 2024-06, open}]
*/
package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PriceEntry is one price interval. End == nil means currently effective.
type PriceEntry struct {
	Price decimal.Decimal
	Start Period
	End   *Period
}

// IsOpen reports whether the entry has no end.
func (e PriceEntry) IsOpen() bool { return e.End == nil }

// Covers reports whether p falls inside [Start, End].
func (e PriceEntry) Covers(p Period) bool {
	return e.Start.BeforeOrEqual(p) && (e.End == nil || p.BeforeOrEqual(*e.End))
}

// PriceSchedule is an immutable, Start-ordered list of price entries.
type PriceSchedule struct {
	entries []PriceEntry
}

// NewPriceSchedule copies and sorts entries by Start. It does not validate;
// use Validate for that.
func NewPriceSchedule(entries []PriceEntry) PriceSchedule {
	cp := cloneEntries(entries)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Start.Before(cp[j].Start) })
	return PriceSchedule{entries: cp}
}

// Entries returns a copy of the schedule entries in Start order.
func (s PriceSchedule) Entries() []PriceEntry { return cloneEntries(s.entries) }

func (s PriceSchedule) Len() int { return len(s.entries) }

// =============================================================================
// RESOLUTION
// =============================================================================

// Lookup returns the price effective during p. When several entries cover p
// (bad data), the one with the latest Start wins.
func (s PriceSchedule) Lookup(p Period) (decimal.Decimal, bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Covers(p) {
			return s.entries[i].Price, true
		}
	}
	return decimal.Zero, false
}

// Resolve returns the price effective during p, or zero when no entry covers
// it. Zero is a "missing price" sentinel; callers should surface a warning.
func (s PriceSchedule) Resolve(p Period) decimal.Decimal {
	price, _ := s.Lookup(p)
	return price
}

// =============================================================================
// MUTATIONS
// =============================================================================

// AddPrice appends a new open-ended price starting at start and closes the
// previously open entry the month before.
func (s PriceSchedule) AddPrice(price decimal.Decimal, start Period) (PriceSchedule, error) {
	if start.IsZero() {
		return s, ErrInvalidPeriod
	}
	entries := cloneEntries(s.entries)
	if n := len(entries); n > 0 {
		last := &entries[n-1]
		if !start.After(last.Start) {
			return s, &PriceOrderingError{Latest: last.Start, Requested: start}
		}
		if last.End == nil {
			end := start.Prev()
			last.End = &end
		} else if !last.End.Before(start) {
			return s, ErrPriceOverlap
		}
	}
	entries = append(entries, PriceEntry{Price: price, Start: start})
	return PriceSchedule{entries: entries}, nil
}

// UpdatePrice changes the price of the entry starting at start in place.
func (s PriceSchedule) UpdatePrice(start Period, price decimal.Decimal) (PriceSchedule, error) {
	i := s.indexOf(start)
	if i < 0 {
		return s, ErrPriceNotFound
	}
	entries := cloneEntries(s.entries)
	entries[i].Price = price
	return PriceSchedule{entries: entries}, nil
}

// DeletePrice removes the entry starting at start. A middle entry's neighbours
// are stitched together so coverage stays gap-free; removing the last entry
// reopens the new last one.
func (s PriceSchedule) DeletePrice(start Period) (PriceSchedule, error) {
	i := s.indexOf(start)
	if i < 0 {
		return s, ErrPriceNotFound
	}
	entries := cloneEntries(s.entries)
	entries = append(entries[:i], entries[i+1:]...)

	switch {
	case len(entries) == 0:
	case i == len(entries):
		entries[i-1].End = nil
	case i > 0:
		end := entries[i].Start.Prev()
		entries[i-1].End = &end
	}
	return PriceSchedule{entries: entries}, nil
}

// Validate checks ordering, non-overlap and the single open entry.
func (s PriceSchedule) Validate() error {
	for i, e := range s.entries {
		if e.End != nil && e.End.Before(e.Start) {
			return &ScheduleError{Index: i, Reason: "ends before it starts"}
		}
		if i == len(s.entries)-1 {
			break
		}
		next := s.entries[i+1]
		if e.End == nil {
			return &ScheduleError{Index: i, Reason: "open-ended entry is not the last one"}
		}
		if !e.End.Before(next.Start) {
			return &ScheduleError{Index: i, Reason: "overlaps entry starting " + next.Start.String()}
		}
	}
	return nil
}

func (s PriceSchedule) indexOf(start Period) int {
	for i, e := range s.entries {
		if e.Start.Equal(start) {
			return i
		}
	}
	return -1
}

func cloneEntries(in []PriceEntry) []PriceEntry {
	out := make([]PriceEntry, len(in))
	for i, e := range in {
		out[i] = e
		if e.End != nil {
			end := *e.End
			out[i].End = &end
		}
	}
	return out
}
