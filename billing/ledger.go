/*
ledger.go - Station balance by chronological replay

PURPOSE:
  There is no stored "current balance". The balance at the start of any
  period is recomputed from the station's opening balance by folding every
  earlier settlement, in period order:

    balance = StartBalance
    for each settlement with Period < target (ascending):
        balance = balance + GasAmount - Payment

  GasAmount is AmountOfGas when present and non-zero, else AmountOfLimit.

INVARIANTS:
  1. DETERMINISTIC: the input slice order never matters; records are sorted.
  2. EXCLUSIVE: the target period's own record is never part of its
     opening balance.
  3. PRE-START: a target before Station.StartDate returns StartBalance.

SEE ALSO:
  - types.go: Settlement.GasAmount, Settlement.PaymentAmount
*/
package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER LINE - One replayed period
// =============================================================================

// LedgerLine is the effect of one settlement on the station balance.
type LedgerLine struct {
	Period         Period
	BalanceForward decimal.Decimal
	GasAmount      decimal.Decimal
	Payment        decimal.Decimal
	BalanceEnd     decimal.Decimal
	Settlement     Settlement
}

// =============================================================================
// REPLAY
// =============================================================================

// BalanceAtStart returns the balance carried into target.
func BalanceAtStart(station Station, target Period, settlements []Settlement) (decimal.Decimal, error) {
	if station.StartDate.IsZero() {
		return decimal.Zero, ErrStationStartRequired
	}
	if target.Before(station.StartDate) {
		return station.StartBalance, nil
	}

	balance := station.StartBalance
	for _, s := range stationHistory(station, settlements) {
		if !s.Period.Before(target) {
			break
		}
		balance = apply(balance, s)
	}
	return balance, nil
}

// BalanceAtEnd returns the balance after target's own settlement is applied.
// Without a record for target it equals BalanceAtStart.
func BalanceAtEnd(station Station, target Period, settlements []Settlement) (decimal.Decimal, error) {
	start, err := BalanceAtStart(station, target, settlements)
	if err != nil {
		return decimal.Zero, err
	}
	if target.Before(station.StartDate) {
		return start, nil
	}
	for _, s := range settlements {
		if s.StationID == station.ID && s.Period.Equal(target) {
			return apply(start, s), nil
		}
	}
	return start, nil
}

// Replay folds the whole history of a station and returns one line per
// settlement from StartDate onwards, in period order.
func Replay(station Station, settlements []Settlement) ([]LedgerLine, error) {
	if station.StartDate.IsZero() {
		return nil, ErrStationStartRequired
	}

	history := stationHistory(station, settlements)
	lines := make([]LedgerLine, 0, len(history))
	balance := station.StartBalance
	for _, s := range history {
		end := apply(balance, s)
		lines = append(lines, LedgerLine{
			Period:         s.Period,
			BalanceForward: balance,
			GasAmount:      s.GasAmount(),
			Payment:        s.PaymentAmount(),
			BalanceEnd:     end,
			Settlement:     s,
		})
		balance = end
	}
	return lines, nil
}

func apply(balance decimal.Decimal, s Settlement) decimal.Decimal {
	return balance.Add(s.GasAmount()).Sub(s.PaymentAmount())
}

// stationHistory returns the station's settlements from StartDate onwards,
// sorted by period. The input slice is not modified.
func stationHistory(station Station, settlements []Settlement) []Settlement {
	var out []Settlement
	for _, s := range settlements {
		if s.StationID != station.ID || s.Period.Before(station.StartDate) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out
}

// ForStation filters settlements to one station, sorted by period.
func ForStation(id StationID, settlements []Settlement) []Settlement {
	var out []Settlement
	for _, s := range settlements {
		if s.StationID == id {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out
}
