/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Station CRUD and validation
- Settlement save / preview with locale-formatted numbers
- Statement in JSON, XLSX and PDF
- Price schedule edits and resolution
- Compliance documents with expiry status
- Error to status mapping
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/billing/store"
	"github.com/warp/station-ledger/compliance"
	"github.com/warp/station-ledger/export"
	"github.com/warp/station-ledger/metrics"
	"github.com/warp/station-ledger/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testToday = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T, opts ...func(*Handler)) *testServer {
	t.Helper()
	m := metrics.New()
	svc := settlement.NewService(store.NewMemory(), zap.NewNop(), m)
	h := NewHandler(svc, compliance.NewMemoryStore(), zap.NewNop(), m)
	h.now = func() time.Time { return testToday }
	for _, opt := range opts {
		opt(h)
	}
	return &testServer{t: t, router: NewRouter(h, nil)}
}

// do sends body as-is when it is a string, JSON-encoded otherwise.
func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates a station opened 2024-01 with balance 1000 and a price of 50.
func (s *testServer) seed() StationDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/stations", map[string]any{
		"name":         "North",
		"startDate":    "2024-01",
		"startBalance": "1 000",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	station := decodeBody[StationDTO](s.t, rec)

	rec = s.do(http.MethodPost, "/api/prices", map[string]any{"price": "50", "startDate": "2024-01"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return station
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// =============================================================================
// STATIONS
// =============================================================================

func TestStations_CRUD(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a created station
	station := s.seed()
	assert.NotEmpty(t, station.ID)
	assertDecimal(t, "1000", station.StartBalance)

	// WHEN: it is renamed
	rec := s.do(http.MethodPut, "/api/stations/"+station.ID, map[string]any{
		"name":      "North 2",
		"startDate": "2024-01",
		"landmark":  "Km 12",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: the list shows the new name under the same ID
	rec = s.do(http.MethodGet, "/api/stations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stations := decodeBody[[]StationDTO](t, rec)
	require.Len(t, stations, 1)
	assert.Equal(t, station.ID, stations[0].ID)
	assert.Equal(t, "North 2", stations[0].Name)
	assert.Equal(t, "Km 12", stations[0].Landmark)

	// WHEN: it is deleted
	rec = s.do(http.MethodDelete, "/api/stations/"+station.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/stations/"+station.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateStation_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "missing name", body: map[string]any{"startDate": "2024-01"}},
		{name: "missing start", body: map[string]any{"name": "North"}},
		{name: "bad start", body: map[string]any{"name": "North", "startDate": "2024-13"}},
		{name: "not json", body: "{"},
		{name: "garbage balance", body: map[string]any{"name": "North", "startDate": "2024-01", "startBalance": "12x34"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/stations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeBody[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestCreateStation_AbsentBalanceIsZero(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []map[string]any{
		{"name": "North", "startDate": "2024-01"},
		{"name": "South", "startDate": "2024-01", "startBalance": ""},
		{"name": "East", "startDate": "2024-01", "startBalance": nil},
	} {
		rec := s.do(http.MethodPost, "/api/stations", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assertDecimal(t, "0", decodeBody[StationDTO](t, rec).StartBalance)
	}
}

func TestUpdateStation_InvalidBalance(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()

	rec := s.do(http.MethodPut, "/api/stations/"+station.ID, map[string]any{
		"name": "North", "startDate": "2024-01", "startBalance": "1 0x0",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid startBalance", decodeBody[ErrorResponse](t, rec).Error)

	// The stored balance is untouched.
	rec = s.do(http.MethodGet, "/api/stations/"+station.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDecimal(t, "1000", decodeBody[StationDTO](t, rec).StartBalance)
}

func TestDeleteStation_RemovesDocuments(t *testing.T) {
	s := newTestServer(t)
	north := s.seed()

	rec := s.do(http.MethodPost, "/api/stations", map[string]any{"name": "South", "startDate": "2024-01"})
	require.Equal(t, http.StatusCreated, rec.Code)
	south := decodeBody[StationDTO](t, rec)

	// GIVEN: each station holds a document
	for _, id := range []string{north.ID, south.ID} {
		rec := s.do(http.MethodPost, "/api/documents", map[string]any{"stationId": id, "title": "Fire inspection", "expiresAt": "2024-03-20"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// WHEN
	rec = s.do(http.MethodDelete, "/api/stations/"+north.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: only the other station's document is left
	rec = s.do(http.MethodGet, "/api/documents?station_id="+north.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]DocumentDTO](t, rec))

	rec = s.do(http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decodeBody[[]DocumentDTO](t, rec)
	require.Len(t, docs, 1)
	assert.Equal(t, south.ID, docs[0].StationID)
}

func TestUpdateStation_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPut, "/api/stations/missing", map[string]any{"name": "X", "startDate": "2024-01"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

func TestPutSettlement(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()

	// WHEN: January is saved with mixed number encodings
	rec := s.do(http.MethodPut, "/api/stations/"+station.ID+"/settlements/2024-01",
		`{"gasByMeter": "5", "confError": 2, "lowPress": null, "payment": "200"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: derived fields and balances come back
	preview := decodeBody[PreviewDTO](t, rec)
	assert.True(t, preview.PriceFound)
	assert.Empty(t, preview.Warnings)
	require.NotNil(t, preview.Settlement.AmountOfGas)
	assertDecimal(t, "350", *preview.Settlement.AmountOfGas)
	assert.Nil(t, preview.Settlement.LowPress, "null stays absent")
	assertDecimal(t, "1000", preview.BalanceForward)
	assertDecimal(t, "1150", preview.BalanceEnd)

	rec = s.do(http.MethodGet, "/api/stations/"+station.ID+"/settlements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]SettlementDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "2024-01", list[0].Period.String())
}

func TestPreviewSettlement_DoesNotSave(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()

	rec := s.do(http.MethodPost, "/api/stations/"+station.ID+"/settlements/2024-02/preview",
		map[string]any{"gasByMeter": "1 000,5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[PreviewDTO](t, rec)
	require.NotNil(t, preview.Settlement.TotalGas)
	assertDecimal(t, "1000.5", *preview.Settlement.TotalGas)
	assertDecimal(t, "51025", preview.BalanceEnd)

	rec = s.do(http.MethodGet, "/api/stations/"+station.ID+"/settlements", nil)
	assert.Empty(t, decodeBody[[]SettlementDTO](t, rec))
}

func TestPreviewSettlement_MissingPrice(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()

	rec := s.do(http.MethodPost, "/api/stations/"+station.ID+"/settlements/2023-12/preview",
		map[string]any{"limit": "3"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	preview := decodeBody[PreviewDTO](t, rec)
	assert.False(t, preview.PriceFound)
	assert.Contains(t, preview.Warnings, "price not found for period 2023-12")
}

func TestSettlement_Errors(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()

	rec := s.do(http.MethodPut, "/api/stations/"+station.ID+"/settlements/2024-1x", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/stations/missing/settlements/2024-01", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/stations/"+station.ID+"/settlements/2024-01", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/stations/missing/settlements", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSettlement(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()
	path := "/api/stations/" + station.ID + "/settlements/2024-01"

	require.Equal(t, http.StatusOK, s.do(http.MethodPut, path, map[string]any{"limit": "1"}).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, path, nil).Code)
}

func TestListSettlements_XLSX(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()
	require.Equal(t, http.StatusOK,
		s.do(http.MethodPut, "/api/stations/"+station.ID+"/settlements/2024-01", map[string]any{"limit": "1"}).Code)

	rec := s.do(http.MethodGet, "/api/stations/"+station.ID+"/settlements?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "settlements-"+station.ID+".xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
}

// =============================================================================
// STATEMENT
// =============================================================================

func TestGetStatement(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()
	for period, body := range map[string]string{
		"2024-01": `{"gasByMeter": "10", "payment": "100"}`,
		"2024-02": `{"limit": "2"}`,
	} {
		rec := s.do(http.MethodPut, "/api/stations/"+station.ID+"/settlements/"+period, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	base := "/api/stations/" + station.ID + "/statement"

	t.Run("json", func(t *testing.T) {
		rec := s.do(http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		stmt := decodeBody[StatementDTO](t, rec)
		require.Len(t, stmt.Lines, 2)
		assert.Equal(t, "component", stmt.Lines[0].Mode)
		require.NotNil(t, stmt.Lines[0].Price)
		assertDecimal(t, "50", *stmt.Lines[0].Price)
		assertDecimal(t, "1400", stmt.Lines[1].BalanceForward)
		assertDecimal(t, "1500", stmt.ClosingBalance)
	})

	t.Run("xlsx", func(t *testing.T) {
		rec := s.do(http.MethodGet, base+"?format=xlsx", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, export.ContentTypeXLSX, rec.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
	})

	t.Run("pdf", func(t *testing.T) {
		rec := s.do(http.MethodGet, base+"?format=pdf", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, export.ContentTypePDF, rec.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := s.do(http.MethodGet, base+"?format=csv", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// PRICES
// =============================================================================

func TestPrices(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: two prices
	rec := s.do(http.MethodPost, "/api/prices", map[string]any{"price": "100", "startDate": "2024-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/prices", map[string]any{"price": "120,5", "startDate": "2024-06"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: the first one was closed at the month before the second
	entries := decodeBody[[]PriceDTO](t, rec)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].EndDate)
	assert.Equal(t, "2024-05", entries[0].EndDate.String())
	assert.Nil(t, entries[1].EndDate)
	assertDecimal(t, "120.5", entries[1].Price)

	// Resolution
	rec = s.do(http.MethodGet, "/api/prices/resolve?period=2024-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decodeBody[ResolvedPriceDTO](t, rec)
	assert.True(t, resolved.Found)
	require.NotNil(t, resolved.Price)
	assertDecimal(t, "100", *resolved.Price)

	rec = s.do(http.MethodGet, "/api/prices/resolve?period=2023-12", nil)
	resolved = decodeBody[ResolvedPriceDTO](t, rec)
	assert.False(t, resolved.Found)
	assert.Nil(t, resolved.Price)

	// Update and delete
	rec = s.do(http.MethodPut, "/api/prices/2024-01", map[string]any{"price": "105"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertDecimal(t, "105", decodeBody[[]PriceDTO](t, rec)[0].Price)

	rec = s.do(http.MethodDelete, "/api/prices/2024-06", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries = decodeBody[[]PriceDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].EndDate)

	rec = s.do(http.MethodGet, "/api/prices", nil)
	assert.Len(t, decodeBody[[]PriceDTO](t, rec), 1)
}

func TestPrices_Errors(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, "/api/prices", map[string]any{"price": "100", "startDate": "2024-06"}).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"start not after latest", http.MethodPost, "/api/prices", map[string]any{"price": "90", "startDate": "2024-03"}, http.StatusBadRequest},
		{"negative price", http.MethodPost, "/api/prices", map[string]any{"price": "-1", "startDate": "2024-09"}, http.StatusBadRequest},
		{"garbage price", http.MethodPost, "/api/prices", map[string]any{"price": "abc", "startDate": "2024-09"}, http.StatusBadRequest},
		{"missing price", http.MethodPost, "/api/prices", map[string]any{"startDate": "2024-09"}, http.StatusBadRequest},
		{"update unknown start", http.MethodPut, "/api/prices/2024-01", map[string]any{"price": "1"}, http.StatusNotFound},
		{"delete unknown start", http.MethodDelete, "/api/prices/2024-01", nil, http.StatusNotFound},
		{"bad start", http.MethodDelete, "/api/prices/june", nil, http.StatusBadRequest},
		{"resolve without period", http.MethodGet, "/api/prices/resolve", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func TestDocuments(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()

	for _, doc := range []map[string]any{
		{"stationId": station.ID, "title": "Fire inspection", "expiresAt": "2024-03-20"},
		{"stationId": station.ID, "title": "Pressure vessel", "expiresAt": "2024-03-01"},
		{"stationId": station.ID, "title": "Operating license"},
	} {
		rec := s.do(http.MethodPost, "/api/documents", doc)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(http.MethodGet, "/api/documents?station_id="+station.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decodeBody[[]DocumentDTO](t, rec)
	require.Len(t, docs, 3)

	// Soonest expiry first, no expiry last.
	assert.Equal(t, "Pressure vessel", docs[0].Title)
	assert.Equal(t, string(compliance.StatusExpired), docs[0].Status)
	assert.Equal(t, string(compliance.StatusExpiring), docs[1].Status)
	require.NotNil(t, docs[1].DaysLeft)
	assert.Equal(t, 10, *docs[1].DaysLeft)
	assert.Equal(t, string(compliance.StatusNoExpiry), docs[2].Status)
	assert.Nil(t, docs[2].DaysLeft)

	rec = s.do(http.MethodDelete, "/api/documents/"+docs[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodDelete, "/api/documents/"+docs[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDocument_Errors(t *testing.T) {
	s := newTestServer(t)
	station := s.seed()

	rec := s.do(http.MethodPost, "/api/documents", map[string]any{"stationId": "missing", "title": "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/documents", map[string]any{"stationId": station.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/documents", map[string]any{"stationId": station.ID, "title": "X", "expiresAt": "20/03/2024"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.do(http.MethodGet, "/api/stations", nil)
	rec = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "station_ledger_http_requests_total"), body)
	assert.Contains(t, body, `route="/api/stations`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{billing.ErrStationNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", billing.ErrSettlementNotFound), http.StatusNotFound},
		{compliance.ErrDocumentNotFound, http.StatusNotFound},
		{billing.ErrConcurrentModification, http.StatusConflict},
		{&billing.PriceOrderingError{}, http.StatusBadRequest},
		{billing.ErrPriceOverlap, http.StatusBadRequest},
		{billing.ErrInvalidPeriod, http.StatusBadRequest},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestNumber_UnmarshalJSON(t *testing.T) {
	var req SettlementRequest
	require.NoError(t, json.Unmarshal([]byte(`{"limit": 12.5, "payment": "1 234,5", "gasAct": null}`), &req))
	assert.Equal(t, Number("12.5"), req.Limit)
	assert.Equal(t, Number("1 234,5"), req.Payment)
	assert.Equal(t, Number(""), req.GasAct)
}
