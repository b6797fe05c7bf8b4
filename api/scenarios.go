/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the ledger with realistic data for demos and manual testing.
	Each scenario creates stations, a price schedule and a few months of
	settlements ending last month, so the dashboard always shows recent data.

AVAILABLE SCENARIOS:

	single-station:  One station, steady component readings and payments
	prorated-meter:  Readings prorated from partial-month meter data
	price-change:    Mid-history price change and periods without a price
	compliance:      Documents in every expiry state

HOW SCENARIOS WORK:
 1. Reset the ledger and the document store
 2. Create stations
 3. Build the price schedule
 4. Save settlements through the settlement service (derived as usual)

USAGE VIA API:

	GET  /api/scenarios
	GET  /api/scenarios/current
	POST /api/scenarios/load
	{"scenario_id": "price-change"}

NOTE:

	Scenarios wipe all data. Routes are only mounted when
	http.enable_scenarios is set.

SEE ALSO:
  - handlers.go: Handler
  - settlement/service.go: Reset, UpsertSettlement
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/compliance"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-station",
		Name:        "Single Station",
		Description: "One station with five months of meter readings and payments",
		Category:    "ledger",
	},
	{
		ID:          "prorated-meter",
		Name:        "Prorated Meter",
		Description: "Monthly consumption extrapolated from partial-month readings",
		Category:    "ledger",
	},
	{
		ID:          "price-change",
		Name:        "Price Change",
		Description: "Two stations across a price change, oldest periods without a price",
		Category:    "ledger",
	},
	{
		ID:          "compliance",
		Name:        "Compliance Documents",
		Description: "Expired, expiring, valid and open-ended station documents",
		Category:    "compliance",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, r, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, nil)
}

// LoadScenario wipes all data and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context, billing.Period) error{
		"single-station": h.loadSingleStationScenario,
		"prorated-meter": h.loadProratedMeterScenario,
		"price-change":   h.loadPriceChangeScenario,
		"compliance":     h.loadComplianceScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeErrorStatus(w, r, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.reset(ctx); err != nil {
		h.writeError(w, r, "Failed to reset data", err)
		return
	}
	if err := load(ctx, billing.PeriodOf(h.now())); err != nil {
		h.writeError(w, r, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Ledger.Reset(ctx); err != nil {
		return err
	}
	docs, err := h.Documents.ListDocuments(ctx, "")
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := h.Documents.DeleteDocument(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Loaders receive the current period; every settlement lands before it.

func (h *Handler) loadSingleStationScenario(ctx context.Context, current billing.Period) error {
	start := current.AddMonths(-5)
	st, err := h.createStation(ctx, "Severnaya", "Km 14, ring road", start, 12500)
	if err != nil {
		return err
	}
	if _, err := h.Ledger.AddPrice(ctx, decimal.NewFromInt(45), start); err != nil {
		return err
	}

	for i := 0; i < 5; i++ {
		in := billing.RawInput{
			StationID:  st.ID,
			Period:     start.AddMonths(i),
			Limit:      "300",
			GasByMeter: fmt.Sprint(280 + 10*i),
			ConfError:  "4,5",
			LowPress:   "1,2",
			Payment:    "13 000",
		}
		if _, err := h.Ledger.UpsertSettlement(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadProratedMeterScenario(ctx context.Context, current billing.Period) error {
	start := current.AddMonths(-4)
	st, err := h.createStation(ctx, "Yuzhnaya", "Industrial park, gate 3", start, 0)
	if err != nil {
		return err
	}
	if _, err := h.Ledger.AddPrice(ctx, decimal.RequireFromString("47.8"), start); err != nil {
		return err
	}

	readings := []struct{ consumption, days string }{
		{"118", "12"},
		{"205,5", "21"},
		{"61", "6"},
	}
	for i, rd := range readings {
		in := billing.RawInput{
			StationID:                st.ID,
			Period:                   start.AddMonths(i),
			Limit:                    "320",
			UseCalculatedConsumption: true,
			ActualConsumption:        rd.consumption,
			ActualConsumptionDays:    rd.days,
			Payment:                  "14 500",
		}
		if _, err := h.Ledger.UpsertSettlement(ctx, in); err != nil {
			return err
		}
	}

	// The last month had a full meter reading again.
	_, err = h.Ledger.UpsertSettlement(ctx, billing.RawInput{
		StationID:  st.ID,
		Period:     start.AddMonths(3),
		Limit:      "320",
		GasByMeter: "301",
		Payment:    "14 500",
	})
	return err
}

func (h *Handler) loadPriceChangeScenario(ctx context.Context, current billing.Period) error {
	first := current.AddMonths(-10)
	firstPrice := current.AddMonths(-8)
	secondPrice := current.AddMonths(-3)

	if _, err := h.Ledger.AddPrice(ctx, decimal.NewFromInt(40), firstPrice); err != nil {
		return err
	}
	if _, err := h.Ledger.AddPrice(ctx, decimal.NewFromInt(48), secondPrice); err != nil {
		return err
	}

	north, err := h.createStation(ctx, "Northern depot", "", first, 5000)
	if err != nil {
		return err
	}
	east, err := h.createStation(ctx, "Eastern depot", "Bypass exit 7", firstPrice, 0)
	if err != nil {
		return err
	}

	for p := first; p.Before(current); p = p.Next() {
		// Periods before firstPrice settle at price 0 with a warning.
		if _, err := h.Ledger.UpsertSettlement(ctx, billing.RawInput{
			StationID:  north.ID,
			Period:     p,
			Limit:      "250",
			GasByMeter: "240",
			Payment:    "10 000",
		}); err != nil {
			return err
		}
	}
	for p := firstPrice; p.Before(current); p = p.Next() {
		in := billing.RawInput{StationID: east.ID, Period: p, Limit: "150", Payment: "6 500"}
		if p.AfterOrEqual(secondPrice) {
			in.GasByMeter = "162"
		}
		if _, err := h.Ledger.UpsertSettlement(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadComplianceScenario(ctx context.Context, current billing.Period) error {
	st, err := h.createStation(ctx, "Zapadnaya", "Port road 2", current.AddMonths(-12), 0)
	if err != nil {
		return err
	}

	today := h.now().UTC().Truncate(24 * time.Hour)
	days := func(n int) *time.Time {
		t := today.AddDate(0, 0, n)
		return &t
	}
	docs := []compliance.Document{
		{Title: "Pressure vessel certificate", Number: "PV-2231", IssuedAt: days(-375), ExpiresAt: days(-10)},
		{Title: "Fire safety inspection", Number: "FS-118", IssuedAt: days(-353), ExpiresAt: days(12)},
		{Title: "Meter calibration", Number: "MC-77", IssuedAt: days(-165), ExpiresAt: days(200)},
		{Title: "Operating license", Number: "OL-0042", IssuedAt: days(-400)},
	}
	for _, d := range docs {
		d.ID = uuid.NewString()
		d.StationID = string(st.ID)
		d.CreatedAt = h.now().UTC()
		if err := h.Documents.SaveDocument(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createStation(ctx context.Context, name, landmark string, start billing.Period, balance int64) (billing.Station, error) {
	return h.Ledger.SaveStation(ctx, billing.Station{
		Name:         name,
		Landmark:     landmark,
		StartDate:    start,
		StartBalance: decimal.NewFromInt(balance),
	})
}
