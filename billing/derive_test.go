package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/station-ledger/billing"
)

func assertNum(t *testing.T, want float64, got decimal.NullDecimal, field string) {
	t.Helper()
	if assert.True(t, got.Valid, "%s should be present", field) {
		assert.True(t, got.Decimal.Equal(dec(want)), "%s: want %v, got %s", field, want, got.Decimal)
	}
}

func TestDerive_ComponentMode(t *testing.T) {
	// GIVEN: limit 10, gasByMeter 5, confError 2 at price 50
	s := billing.Settlement{
		Period: p("2024-04"),
		Limit:  billing.Num(10),
		Consumption: billing.ComponentReadings{
			GasByMeter: billing.Num(5),
			ConfError:  billing.Num(2),
		},
	}

	// WHEN
	d := billing.Derive(s, dec(50))

	// THEN: totalGas 7, amountOfLimit 500, amountOfGas 350
	assertNum(t, 7, d.TotalGas, "TotalGas")
	assertNum(t, 500, d.AmountOfLimit, "AmountOfLimit")
	assertNum(t, 350, d.AmountOfGas, "AmountOfGas")
	assert.False(t, d.CalculatedMonthlyConsumption.Valid)
}

func TestDerive_ProratedMode(t *testing.T) {
	// GIVEN: 300 m3 measured over 10 days in a 30-day month, price 50
	s := billing.Settlement{
		Period: p("2024-04"),
		Consumption: billing.ProratedReading{
			ActualConsumption:     billing.Num(300),
			ActualConsumptionDays: 10,
		},
	}

	d := billing.Derive(s, dec(50))

	// THEN: 900 m3 for the month, 45000 to pay
	assertNum(t, 900, d.CalculatedMonthlyConsumption, "CalculatedMonthlyConsumption")
	assertNum(t, 900, d.TotalGas, "TotalGas")
	assertNum(t, 45000, d.AmountOfGas, "AmountOfGas")
	assertNum(t, 0, d.AmountOfLimit, "AmountOfLimit")
}

func TestDerive_PointerConsumption(t *testing.T) {
	// GIVEN: the same prorated reading held by pointer, in a 31-day month
	s := billing.Settlement{
		Period: p("2024-01"),
		Consumption: &billing.ProratedReading{
			ActualConsumption:     billing.Num(300),
			ActualConsumptionDays: 10,
		},
	}

	// WHEN
	d := billing.Derive(s, dec(50))

	// THEN: the reading is used, not dropped as empty components
	assertNum(t, 930, d.TotalGas, "TotalGas")
	assertNum(t, 46500, d.AmountOfGas, "AmountOfGas")
	assert.Equal(t, billing.KindProrated, s.Mode())

	doc := s.Document()
	assert.True(t, doc.UseCalculatedConsumption)
	if assert.NotNil(t, doc.ActualConsumptionDays) {
		assert.Equal(t, 10, *doc.ActualConsumptionDays)
	}

	// AND: pointer component readings are summed too
	c := billing.Settlement{
		Period:      p("2024-01"),
		Consumption: &billing.ComponentReadings{GasByMeter: billing.Num(4), GasAct: billing.Num(1)},
	}
	assertNum(t, 5, billing.Derive(c, dec(50)).TotalGas, "TotalGas")

	// AND: a nil pointer reads as empty component readings
	var nilReading *billing.ProratedReading
	n := billing.Settlement{Period: p("2024-01"), Consumption: nilReading}
	assert.Equal(t, billing.KindComponent, n.Mode())
	assert.False(t, billing.Derive(n, dec(50)).TotalGas.Valid)
}

func TestDerive_ProratedUsesCalendarDays(t *testing.T) {
	s := billing.Settlement{
		Period: p("2024-02"),
		Consumption: billing.ProratedReading{
			ActualConsumption:     billing.Num(100),
			ActualConsumptionDays: 10,
		},
	}
	assertNum(t, 290, billing.Derive(s, dec(1)).TotalGas, "TotalGas (leap February)")

	s.Period = p("2024-01")
	assertNum(t, 310, billing.Derive(s, dec(1)).TotalGas, "TotalGas (January)")
}

func TestDerive_NullPropagation(t *testing.T) {
	tests := []struct {
		name      string
		s         billing.Settlement
		wantTotal *float64
	}{
		{
			name: "no inputs at all",
			s:    billing.Settlement{Period: p("2024-01")},
		},
		{
			name: "empty component readings",
			s:    billing.Settlement{Period: p("2024-01"), Consumption: billing.ComponentReadings{}},
		},
		{
			name:      "explicit zero",
			s:         billing.Settlement{Period: p("2024-01"), Consumption: billing.ComponentReadings{GasByMeter: billing.Num(0)}},
			wantTotal: ptrFloat(0),
		},
		{
			name:      "one reading present, others count as zero",
			s:         billing.Settlement{Period: p("2024-01"), Consumption: billing.ComponentReadings{GasAct: billing.Num(4)}},
			wantTotal: ptrFloat(4),
		},
		{
			name: "prorated without days",
			s: billing.Settlement{Period: p("2024-01"), Consumption: billing.ProratedReading{
				ActualConsumption: billing.Num(100),
			}},
		},
		{
			name: "prorated with negative days",
			s: billing.Settlement{Period: p("2024-01"), Consumption: billing.ProratedReading{
				ActualConsumption:     billing.Num(100),
				ActualConsumptionDays: -3,
			}},
		},
		{
			name: "prorated without consumption",
			s: billing.Settlement{Period: p("2024-01"), Consumption: billing.ProratedReading{
				ActualConsumptionDays: 10,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := billing.Derive(tt.s, dec(50))
			if tt.wantTotal == nil {
				assert.False(t, d.TotalGas.Valid, "TotalGas should be absent")
				assert.False(t, d.AmountOfGas.Valid, "AmountOfGas should be absent")
				return
			}
			assertNum(t, *tt.wantTotal, d.TotalGas, "TotalGas")
			assertNum(t, *tt.wantTotal*50, d.AmountOfGas, "AmountOfGas")
		})
	}
}

func TestRawInput_ModeExclusivity(t *testing.T) {
	// GIVEN: a form with both modes filled in
	in := billing.RawInput{
		Period:                p("2024-04"),
		Limit:                 "10",
		GasByMeter:            "5",
		ConfError:             "2",
		ActualConsumption:     "300",
		ActualConsumptionDays: "10",
	}

	// WHEN: component mode is active, prorated fields are ignored
	component := in.Parse()
	assert.Equal(t, billing.KindComponent, component.Mode())
	assertNum(t, 7, billing.Derive(component, dec(50)).TotalGas, "component TotalGas")

	// WHEN: prorated mode is active, component fields are ignored
	in.UseCalculatedConsumption = true
	prorated := in.Parse()
	assert.Equal(t, billing.KindProrated, prorated.Mode())
	assertNum(t, 900, billing.Derive(prorated, dec(50)).TotalGas, "prorated TotalGas")

	// Changing inactive fields never changes the result.
	in.GasByMeter = "99999"
	assert.Equal(t, billing.Derive(prorated, dec(50)), billing.Derive(in.Parse(), dec(50)))
}

func TestRawInput_LocaleAndGarbage(t *testing.T) {
	in := billing.RawInput{
		Period:     p("2024-04"),
		Limit:      "1 000,5",
		GasByMeter: "12,",
		ConfError:  "abc",
		Payment:    "",
	}

	s := in.Parse()
	assertNum(t, 1000.5, s.Limit, "Limit")
	assert.False(t, s.Payment.Valid)

	readings := s.Consumption.(billing.ComponentReadings)
	assertNum(t, 12, readings.GasByMeter, "GasByMeter")
	assert.False(t, readings.ConfError.Valid, "garbage is absent, not zero")
}

func TestRawInput_FractionalDaysAreAbsent(t *testing.T) {
	in := billing.RawInput{
		Period:                   p("2024-04"),
		UseCalculatedConsumption: true,
		ActualConsumption:        "300",
		ActualConsumptionDays:    "10,5",
	}
	d := billing.Derive(in.Parse(), dec(50))
	assert.False(t, d.TotalGas.Valid)
}

func TestSettlement_GasAmountFallback(t *testing.T) {
	s := billing.Settlement{Limit: billing.Num(10)}

	s = s.WithDerived(dec(50))
	assert.True(t, s.GasAmount().Equal(dec(500)), "no consumption: limit estimate")

	s.Consumption = billing.ComponentReadings{GasByMeter: billing.Num(0)}
	s = s.WithDerived(dec(50))
	assert.True(t, s.GasAmount().Equal(dec(500)), "zero consumption: limit estimate")

	s.Consumption = billing.ComponentReadings{GasByMeter: billing.Num(3)}
	s = s.WithDerived(dec(50))
	assert.True(t, s.GasAmount().Equal(dec(150)))

	assert.True(t, billing.Settlement{}.GasAmount().IsZero())
	assert.True(t, billing.Settlement{}.PaymentAmount().IsZero())
}

func ptrFloat(v float64) *float64 { return &v }
