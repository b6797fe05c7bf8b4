package billing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERSISTED DOCUMENT SHAPES
// =============================================================================
// Stores serialise collections as JSON arrays of these documents. Settlement
// modes are flattened with a useCalculatedConsumption flag; fields of the
// inactive mode are never written and ignored on read.

type StationDocument struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Landmark     string          `json:"landmark,omitempty"`
	StartDate    Period          `json:"startDate"`
	StartBalance decimal.Decimal `json:"startBalance"`
}

type PriceDocument struct {
	Price     decimal.Decimal `json:"price"`
	StartDate Period          `json:"startDate"`
	EndDate   *Period         `json:"endDate"`
}

type SettlementDocument struct {
	StationID string `json:"stationId"`
	Period    Period `json:"period"`

	Limit *decimal.Decimal `json:"limit,omitempty"`

	GasByMeter *decimal.Decimal `json:"gasByMeter,omitempty"`
	ConfError  *decimal.Decimal `json:"confError,omitempty"`
	LowPress   *decimal.Decimal `json:"lowPress,omitempty"`
	GasAct     *decimal.Decimal `json:"gasAct,omitempty"`

	UseCalculatedConsumption bool             `json:"useCalculatedConsumption,omitempty"`
	ActualConsumption        *decimal.Decimal `json:"actualConsumption,omitempty"`
	ActualConsumptionDays    *int             `json:"actualConsumptionDays,omitempty"`

	TotalGas                     *decimal.Decimal `json:"totalGas,omitempty"`
	CalculatedMonthlyConsumption *decimal.Decimal `json:"calculatedMonthlyConsumption,omitempty"`
	AmountOfLimit                *decimal.Decimal `json:"amountOfLimit,omitempty"`
	AmountOfGas                  *decimal.Decimal `json:"amountOfGas,omitempty"`

	Payment *decimal.Decimal `json:"payment,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (s Station) Document() StationDocument {
	return StationDocument{
		ID:           string(s.ID),
		Name:         s.Name,
		Landmark:     s.Landmark,
		StartDate:    s.StartDate,
		StartBalance: s.StartBalance,
	}
}

func (d StationDocument) Station() Station {
	return Station{
		ID:           StationID(d.ID),
		Name:         d.Name,
		Landmark:     d.Landmark,
		StartDate:    d.StartDate,
		StartBalance: d.StartBalance,
	}
}

func (e PriceEntry) Document() PriceDocument {
	return PriceDocument{Price: e.Price, StartDate: e.Start, EndDate: e.End}
}

func (d PriceDocument) Entry() PriceEntry {
	return PriceEntry{Price: d.Price, Start: d.StartDate, End: d.EndDate}
}

func (s Settlement) Document() SettlementDocument {
	doc := SettlementDocument{
		StationID:                    string(s.StationID),
		Period:                       s.Period,
		Limit:                        ptr(s.Limit),
		Payment:                      ptr(s.Payment),
		TotalGas:                     ptr(s.Derived.TotalGas),
		CalculatedMonthlyConsumption: ptr(s.Derived.CalculatedMonthlyConsumption),
		AmountOfLimit:                ptr(s.Derived.AmountOfLimit),
		AmountOfGas:                  ptr(s.Derived.AmountOfGas),
	}
	switch c := s.ActiveConsumption().(type) {
	case ProratedReading:
		doc.UseCalculatedConsumption = true
		doc.ActualConsumption = ptr(c.ActualConsumption)
		days := c.ActualConsumptionDays
		doc.ActualConsumptionDays = &days
	case ComponentReadings:
		doc.GasByMeter = ptr(c.GasByMeter)
		doc.ConfError = ptr(c.ConfError)
		doc.LowPress = ptr(c.LowPress)
		doc.GasAct = ptr(c.GasAct)
	}
	return doc
}

func (d SettlementDocument) Settlement() Settlement {
	s := Settlement{
		StationID: StationID(d.StationID),
		Period:    d.Period,
		Limit:     null(d.Limit),
		Payment:   null(d.Payment),
		Derived: Derived{
			TotalGas:                     null(d.TotalGas),
			CalculatedMonthlyConsumption: null(d.CalculatedMonthlyConsumption),
			AmountOfLimit:                null(d.AmountOfLimit),
			AmountOfGas:                  null(d.AmountOfGas),
		},
	}
	if d.UseCalculatedConsumption {
		r := ProratedReading{ActualConsumption: null(d.ActualConsumption)}
		if d.ActualConsumptionDays != nil {
			r.ActualConsumptionDays = *d.ActualConsumptionDays
		}
		s.Consumption = r
	} else {
		s.Consumption = ComponentReadings{
			GasByMeter: null(d.GasByMeter),
			ConfError:  null(d.ConfError),
			LowPress:   null(d.LowPress),
			GasAct:     null(d.GasAct),
		}
	}
	return s
}

// =============================================================================
// COLLECTION CODECS
// =============================================================================

func EncodeStations(stations []Station) ([]byte, error) {
	docs := make([]StationDocument, len(stations))
	for i, s := range stations {
		docs[i] = s.Document()
	}
	return json.Marshal(docs)
}

func DecodeStations(b []byte) ([]Station, error) {
	var docs []StationDocument
	if err := decode(b, &docs); err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}
	out := make([]Station, len(docs))
	for i, d := range docs {
		out[i] = d.Station()
	}
	return out, nil
}

func EncodeSettlements(settlements []Settlement) ([]byte, error) {
	docs := make([]SettlementDocument, len(settlements))
	for i, s := range settlements {
		docs[i] = s.Document()
	}
	return json.Marshal(docs)
}

func DecodeSettlements(b []byte) ([]Settlement, error) {
	var docs []SettlementDocument
	if err := decode(b, &docs); err != nil {
		return nil, fmt.Errorf("decode settlements: %w", err)
	}
	out := make([]Settlement, len(docs))
	for i, d := range docs {
		out[i] = d.Settlement()
	}
	return out, nil
}

func EncodePrices(entries []PriceEntry) ([]byte, error) {
	docs := make([]PriceDocument, len(entries))
	for i, e := range entries {
		docs[i] = e.Document()
	}
	return json.Marshal(docs)
}

func DecodePrices(b []byte) ([]PriceEntry, error) {
	var docs []PriceDocument
	if err := decode(b, &docs); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	out := make([]PriceEntry, len(docs))
	for i, d := range docs {
		out[i] = d.Entry()
	}
	return out, nil
}

func decode(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func ptr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func null(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
