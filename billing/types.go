/*
Package billing is the gas settlement ledger and pricing engine.

PURPOSE:
  A gas station buys gas from a supplier under a monthly limit. Each month
  (Period) the operator records meter readings and the payment made; the
  engine prices the month from a time-ordered price schedule and carries the
  station's running balance forward from its opening balance.

KEY CONCEPTS:
  - Period: a calendar month, "YYYY-MM"
  - PriceSchedule: non-overlapping price intervals, last one open-ended
  - Settlement: one station x period record of raw inputs and derived amounts
  - Consumption: tagged variant, either ComponentReadings or ProratedReading
  - Replay: left fold of all settlements before a period onto the start balance

DESIGN PRINCIPLES:
  1. Purity: nothing in this package does I/O; callers pass snapshots in and
     receive new snapshots back.
  2. Precision: decimal.Decimal for every amount and volume.
  3. Absent is not zero: decimal.NullDecimal distinguishes "not entered"
     from "entered as 0".

SIGN CONVENTION:
  Positive balance = the station owes. Gas charged increases the balance,
  payments decrease it.

SEE ALSO:
  - price.go: PriceSchedule
  - derive.go: derived field computation
  - ledger.go: balance replay
  - store.go: persistence boundary
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StationID string

// SettlementKey is the composite key of a settlement record.
type SettlementKey struct {
	StationID StationID
	Period    Period
}

func (k SettlementKey) String() string { return string(k.StationID) + "/" + k.Period.String() }

// =============================================================================
// STATION
// =============================================================================

// Station is a gas station account. StartBalance is the balance as of
// StartDate; periods before StartDate are not replayed.
type Station struct {
	ID           StationID
	Name         string
	Landmark     string
	StartDate    Period
	StartBalance decimal.Decimal
}

// =============================================================================
// CONSUMPTION - Tagged variant, exactly one mode per record
// =============================================================================

type ConsumptionKind string

const (
	KindComponent ConsumptionKind = "component"
	KindProrated  ConsumptionKind = "prorated"
)

// Consumption is implemented by ComponentReadings and ProratedReading only.
// Holding one of them in Settlement.Consumption makes the two computation
// modes mutually exclusive by construction.
type Consumption interface {
	Kind() ConsumptionKind
	isConsumption()
}

// ComponentReadings is the default mode: total gas is the sum of four
// metered sub-readings.
type ComponentReadings struct {
	GasByMeter decimal.NullDecimal
	ConfError  decimal.NullDecimal // conformity correction
	LowPress   decimal.NullDecimal // low-pressure correction
	GasAct     decimal.NullDecimal // supplier act adjustment
}

func (ComponentReadings) Kind() ConsumptionKind { return KindComponent }
func (ComponentReadings) isConsumption()        {}

// ProratedReading scales a partial-month measurement up to the whole month.
type ProratedReading struct {
	ActualConsumption     decimal.NullDecimal
	ActualConsumptionDays int
}

func (ProratedReading) Kind() ConsumptionKind { return KindProrated }
func (ProratedReading) isConsumption()        {}

// =============================================================================
// SETTLEMENT
// =============================================================================

// Settlement is one station's gas consumption and payment for one period.
//
// Derived holds the output of Derive at the last save. Replay reads
// Derived.AmountOfGas / Derived.AmountOfLimit as stored.
type Settlement struct {
	StationID   StationID
	Period      Period
	Limit       decimal.NullDecimal
	Consumption Consumption // nil is treated as empty ComponentReadings; see ActiveConsumption
	Payment     decimal.NullDecimal

	Derived Derived
}

func (s Settlement) Key() SettlementKey {
	return SettlementKey{StationID: s.StationID, Period: s.Period}
}

// Mode returns the active consumption mode.
func (s Settlement) Mode() ConsumptionKind {
	return s.ActiveConsumption().Kind()
}

// ActiveConsumption returns Consumption as a value. Pointers to either
// variant are dereferenced; nil and nil pointers yield empty
// ComponentReadings.
func (s Settlement) ActiveConsumption() Consumption {
	switch c := s.Consumption.(type) {
	case ComponentReadings, ProratedReading:
		return c
	case *ComponentReadings:
		if c != nil {
			return *c
		}
	case *ProratedReading:
		if c != nil {
			return *c
		}
	}
	return ComponentReadings{}
}

// Derived are the computed fields of a settlement.
type Derived struct {
	TotalGas      decimal.NullDecimal
	AmountOfLimit decimal.NullDecimal
	AmountOfGas   decimal.NullDecimal

	// Set only in prorated mode.
	CalculatedMonthlyConsumption decimal.NullDecimal
}

// GasAmount is the charge applied to the balance for this settlement: the
// actual gas amount when present and non-zero, else the limit estimate.
func (s Settlement) GasAmount() decimal.Decimal {
	if s.Derived.AmountOfGas.Valid && !s.Derived.AmountOfGas.Decimal.IsZero() {
		return s.Derived.AmountOfGas.Decimal
	}
	if s.Derived.AmountOfLimit.Valid {
		return s.Derived.AmountOfLimit.Decimal
	}
	return decimal.Zero
}

// PaymentAmount returns the payment, zero when absent.
func (s Settlement) PaymentAmount() decimal.Decimal {
	if s.Payment.Valid {
		return s.Payment.Decimal
	}
	return decimal.Zero
}

// =============================================================================
// NULLABLE HELPERS
// =============================================================================

// Num wraps a float as a present NullDecimal. Intended for tests and literals.
func Num(v float64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromFloat(v))
}

// Absent is the "not entered" value.
var Absent = decimal.NullDecimal{}
