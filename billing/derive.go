package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DERIVATION - raw inputs + price => derived fields
// =============================================================================

// Derive computes the derived fields of s for the given price. It is pure and
// cheap, so forms can call it on every keystroke.
//
//	AmountOfLimit = Limit x price (0 when Limit is absent)
//	TotalGas      = component sum, or prorated monthly consumption
//	AmountOfGas   = TotalGas x price (absent when TotalGas is absent)
//
// Only the fields of the active consumption mode are read.
func Derive(s Settlement, price decimal.Decimal) Derived {
	var d Derived

	limit := decimal.Zero
	if s.Limit.Valid {
		limit = s.Limit.Decimal
	}
	d.AmountOfLimit = decimal.NewNullDecimal(limit.Mul(price))

	switch c := s.ActiveConsumption().(type) {
	case ProratedReading:
		d.CalculatedMonthlyConsumption = c.monthly(s.Period)
		d.TotalGas = d.CalculatedMonthlyConsumption
	case ComponentReadings:
		d.TotalGas = c.total()
	}

	if d.TotalGas.Valid {
		d.AmountOfGas = decimal.NewNullDecimal(d.TotalGas.Decimal.Mul(price))
	}
	return d
}

// WithDerived returns a copy of s with Derived recomputed for price.
func (s Settlement) WithDerived(price decimal.Decimal) Settlement {
	s.Derived = Derive(s, price)
	return s
}

// total sums the present readings. Absent readings count as zero unless all
// four are absent, in which case the total itself is absent.
func (c ComponentReadings) total() decimal.NullDecimal {
	sum := decimal.Zero
	present := false
	for _, v := range []decimal.NullDecimal{c.GasByMeter, c.ConfError, c.LowPress, c.GasAct} {
		if v.Valid {
			sum = sum.Add(v.Decimal)
			present = true
		}
	}
	if !present {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(sum)
}

// monthly scales the measured consumption to the full month:
// actual / actualDays x daysInMonth. Multiplication happens first to keep
// exact results for whole-number inputs.
func (r ProratedReading) monthly(p Period) decimal.NullDecimal {
	if !r.ActualConsumption.Valid || r.ActualConsumptionDays <= 0 {
		return decimal.NullDecimal{}
	}
	days := decimal.NewFromInt(int64(p.Days()))
	v := r.ActualConsumption.Decimal.Mul(days).Div(decimal.NewFromInt(int64(r.ActualConsumptionDays)))
	return decimal.NewNullDecimal(v)
}

// =============================================================================
// RAW INPUT - form values as typed by the operator
// =============================================================================

// RawInput is a settlement as it arrives from a form: every number is an
// unparsed, possibly locale-grouped string. Empty strings mean "not entered".
type RawInput struct {
	StationID StationID
	Period    Period

	Limit   string
	Payment string

	UseCalculatedConsumption bool

	GasByMeter string
	ConfError  string
	LowPress   string
	GasAct     string

	ActualConsumption     string
	ActualConsumptionDays string
}

// Parse converts raw form input into a Settlement, selecting exactly one
// consumption mode. Fields of the inactive mode are ignored. Unparseable
// numbers become absent values.
func (in RawInput) Parse() Settlement {
	s := Settlement{
		StationID: in.StationID,
		Period:    in.Period,
		Limit:     ParseLocaleNumber(in.Limit),
		Payment:   ParseLocaleNumber(in.Payment),
	}
	if in.UseCalculatedConsumption {
		days, _ := ParseLocaleInt(in.ActualConsumptionDays)
		s.Consumption = ProratedReading{
			ActualConsumption:     ParseLocaleNumber(in.ActualConsumption),
			ActualConsumptionDays: days,
		}
	} else {
		s.Consumption = ComponentReadings{
			GasByMeter: ParseLocaleNumber(in.GasByMeter),
			ConfError:  ParseLocaleNumber(in.ConfError),
			LowPress:   ParseLocaleNumber(in.LowPress),
			GasAct:     ParseLocaleNumber(in.GasAct),
		}
	}
	return s
}
