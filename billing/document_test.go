package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/station-ledger/billing"
)

func TestDecodeSettlements_PersistedShape(t *testing.T) {
	// GIVEN: documents as written by the dashboard, numbers unquoted and a
	// prorated record carrying stale component fields
	body := []byte(`[
		{"stationId":"st-1","period":"2024-01","limit":10,"gasByMeter":5,"confError":2,
		 "totalGas":7,"amountOfLimit":500,"amountOfGas":350,"payment":200},
		{"stationId":"st-1","period":"2024-02","useCalculatedConsumption":true,
		 "actualConsumption":300,"actualConsumptionDays":10,"gasByMeter":999,
		 "amountOfGas":43500}
	]`)

	// WHEN
	got, err := billing.DecodeSettlements(body)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// THEN: modes are recovered and inactive fields dropped
	assert.Equal(t, billing.KindComponent, got[0].Mode())
	readings := got[0].Consumption.(billing.ComponentReadings)
	assertNum(t, 5, readings.GasByMeter, "GasByMeter")
	assert.False(t, readings.LowPress.Valid)
	assertNum(t, 350, got[0].Derived.AmountOfGas, "AmountOfGas")
	assertNum(t, 200, got[0].Payment, "Payment")

	assert.Equal(t, billing.KindProrated, got[1].Mode())
	prorated := got[1].Consumption.(billing.ProratedReading)
	assertNum(t, 300, prorated.ActualConsumption, "ActualConsumption")
	assert.Equal(t, 10, prorated.ActualConsumptionDays)
	assert.False(t, got[1].Payment.Valid)

	doc := got[1].Document()
	assert.Nil(t, doc.GasByMeter, "inactive mode is never written")
}

func TestEncodeSettlements_RoundTripKeepsAbsence(t *testing.T) {
	in := []billing.Settlement{
		billing.RawInput{StationID: "st-1", Period: p("2024-03"), GasByMeter: "0"}.Parse().WithDerived(dec(50)),
		billing.RawInput{StationID: "st-1", Period: p("2024-04")}.Parse().WithDerived(dec(50)),
	}

	body, err := billing.EncodeSettlements(in)
	require.NoError(t, err)
	out, err := billing.DecodeSettlements(body)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assertNum(t, 0, out[0].Derived.TotalGas, "explicit zero survives")
	assert.False(t, out[1].Derived.TotalGas.Valid, "absent survives")
	assert.False(t, out[1].Limit.Valid)
}

func TestDecodeCollections_Empty(t *testing.T) {
	stations, err := billing.DecodeStations(nil)
	require.NoError(t, err)
	assert.Empty(t, stations)

	prices, err := billing.DecodePrices([]byte{})
	require.NoError(t, err)
	assert.Empty(t, prices)

	_, err = billing.DecodeStations([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodePrices_OpenEntry(t *testing.T) {
	body := []byte(`[{"price":100,"startDate":"2024-01","endDate":"2024-05"},{"price":120,"startDate":"2024-06","endDate":null}]`)

	entries, err := billing.DecodePrices(body)
	require.NoError(t, err)
	s := billing.NewPriceSchedule(entries)
	require.NoError(t, s.Validate())
	assertPrice(t, s, "2024-05", 100)
	assertPrice(t, s, "2024-06", 120)
}
