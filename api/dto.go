/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Responses reuse the
  persisted document shapes from billing so the API and the stores agree on
  field names; requests carry raw form values.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMBERS:
  Request numbers are Number: a JSON number, a string with locale grouping
  ("1 234,5"), or null. Anything unparseable becomes "not entered", the same
  as an empty form field.

VALIDATION:
  Structural checks (required fields, formats) use validate tags checked by
  go-playground/validator in handlers. Domain checks live in billing.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/document.go: Persisted document shapes
*/
package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/compliance"
	"github.com/warp/station-ledger/settlement"
)

// Number is a raw numeric form value.
type Number string

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*n = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number(s)
	default:
		*n = Number(b)
	}
	return nil
}

// =============================================================================
// STATIONS
// =============================================================================

type StationDTO = billing.StationDocument

type StationRequest struct {
	Name         string `json:"name" validate:"required"`
	Landmark     string `json:"landmark"`
	StartDate    string `json:"startDate" validate:"required"`
	StartBalance Number `json:"startBalance"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type SettlementDTO = billing.SettlementDocument

// SettlementRequest is the settlement form. Station and period come from the
// URL.
type SettlementRequest struct {
	Limit   Number `json:"limit"`
	Payment Number `json:"payment"`

	UseCalculatedConsumption bool `json:"useCalculatedConsumption"`

	GasByMeter Number `json:"gasByMeter"`
	ConfError  Number `json:"confError"`
	LowPress   Number `json:"lowPress"`
	GasAct     Number `json:"gasAct"`

	ActualConsumption     Number `json:"actualConsumption"`
	ActualConsumptionDays Number `json:"actualConsumptionDays"`
}

func (req SettlementRequest) rawInput(id billing.StationID, p billing.Period) billing.RawInput {
	return billing.RawInput{
		StationID:                id,
		Period:                   p,
		Limit:                    string(req.Limit),
		Payment:                  string(req.Payment),
		UseCalculatedConsumption: req.UseCalculatedConsumption,
		GasByMeter:               string(req.GasByMeter),
		ConfError:                string(req.ConfError),
		LowPress:                 string(req.LowPress),
		GasAct:                   string(req.GasAct),
		ActualConsumption:        string(req.ActualConsumption),
		ActualConsumptionDays:    string(req.ActualConsumptionDays),
	}
}

// PreviewDTO is a derived settlement with its balance context.
type PreviewDTO struct {
	Settlement     SettlementDTO   `json:"settlement"`
	Price          decimal.Decimal `json:"price"`
	PriceFound     bool            `json:"priceFound"`
	BalanceForward decimal.Decimal `json:"balanceForward"`
	BalanceEnd     decimal.Decimal `json:"balanceEnd"`
	Warnings       []string        `json:"warnings"`
}

func toPreviewDTO(p settlement.Preview) PreviewDTO {
	warnings := p.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return PreviewDTO{
		Settlement:     p.Settlement.Document(),
		Price:          p.Price,
		PriceFound:     p.PriceFound,
		BalanceForward: p.BalanceForward,
		BalanceEnd:     p.BalanceEnd,
		Warnings:       warnings,
	}
}

// StatementLineDTO is one replayed period.
type StatementLineDTO struct {
	Period         billing.Period   `json:"period"`
	Mode           string           `json:"mode"`
	Price          *decimal.Decimal `json:"price"`
	BalanceForward decimal.Decimal  `json:"balanceForward"`
	GasAmount      decimal.Decimal  `json:"gasAmount"`
	Payment        decimal.Decimal  `json:"payment"`
	BalanceEnd     decimal.Decimal  `json:"balanceEnd"`
}

type StatementDTO struct {
	Station        StationDTO         `json:"station"`
	Lines          []StatementLineDTO `json:"lines"`
	ClosingBalance decimal.Decimal    `json:"closingBalance"`
}

func toStatementDTO(st settlement.Statement) StatementDTO {
	dto := StatementDTO{
		Station:        st.Station.Document(),
		Lines:          make([]StatementLineDTO, 0, len(st.Lines)),
		ClosingBalance: st.ClosingBalance,
	}
	for _, l := range st.Lines {
		line := StatementLineDTO{
			Period:         l.Period,
			Mode:           string(l.Settlement.Mode()),
			BalanceForward: l.BalanceForward,
			GasAmount:      l.GasAmount,
			Payment:        l.Payment,
			BalanceEnd:     l.BalanceEnd,
		}
		if l.PriceFound {
			price := l.Price
			line.Price = &price
		}
		dto.Lines = append(dto.Lines, line)
	}
	return dto
}

// =============================================================================
// PRICES
// =============================================================================

type PriceDTO = billing.PriceDocument

type AddPriceRequest struct {
	Price     Number `json:"price" validate:"required"`
	StartDate string `json:"startDate" validate:"required"`
}

type UpdatePriceRequest struct {
	Price Number `json:"price" validate:"required"`
}

type ResolvedPriceDTO struct {
	Period billing.Period   `json:"period"`
	Price  *decimal.Decimal `json:"price"`
	Found  bool             `json:"found"`
}

func toPriceDTOs(entries []billing.PriceEntry) []PriceDTO {
	out := make([]PriceDTO, len(entries))
	for i, e := range entries {
		out[i] = e.Document()
	}
	return out
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type DocumentDTO struct {
	ID        string `json:"id"`
	StationID string `json:"stationId"`
	Title     string `json:"title"`
	Number    string `json:"number,omitempty"`
	IssuedAt  string `json:"issuedAt,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Status    string `json:"status"`
	DaysLeft  *int   `json:"daysLeft,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type DocumentRequest struct {
	StationID string `json:"stationId" validate:"required"`
	Title     string `json:"title" validate:"required"`
	Number    string `json:"number"`
	IssuedAt  string `json:"issuedAt"`
	ExpiresAt string `json:"expiresAt"`
}

func toDocumentDTO(d compliance.Document, today time.Time, windowDays int) DocumentDTO {
	dto := DocumentDTO{
		ID:        d.ID,
		StationID: d.StationID,
		Title:     d.Title,
		Number:    d.Number,
		Status:    string(compliance.Classify(d, today, windowDays)),
	}
	if d.IssuedAt != nil {
		dto.IssuedAt = d.IssuedAt.Format(dateLayout)
	}
	if d.ExpiresAt != nil {
		dto.ExpiresAt = d.ExpiresAt.Format(dateLayout)
	}
	if left, ok := d.DaysLeft(today); ok {
		dto.DaysLeft = &left
	}
	if !d.CreatedAt.IsZero() {
		dto.CreatedAt = d.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
