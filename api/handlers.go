/*
handlers.go - HTTP API handlers for the station ledger

PURPOSE:
  Exposes the settlement service and the compliance document store via REST
  API. Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Stations:
    GET    /api/stations                         List stations
    POST   /api/stations                         Create station
    GET    /api/stations/{id}                    Get station
    PUT    /api/stations/{id}                    Replace station
    DELETE /api/stations/{id}                    Delete station, its settlements and documents

  Settlements:
    GET    /api/stations/{id}/settlements            List (?format=xlsx to download)
    PUT    /api/stations/{id}/settlements/{period}   Derive and save
    DELETE /api/stations/{id}/settlements/{period}   Delete
    POST   /api/stations/{id}/settlements/{period}/preview  Derive without saving
    GET    /api/stations/{id}/statement              Ledger (?format=xlsx|pdf)

  Prices:
    GET    /api/prices                  Schedule
    POST   /api/prices                  Append a price
    PUT    /api/prices/{start}          Change the price of an entry
    DELETE /api/prices/{start}          Remove an entry
    GET    /api/prices/resolve?period=  Price effective in a period

  Documents:
    GET    /api/documents?station_id=   List with expiry status
    POST   /api/documents               Create
    DELETE /api/documents/{id}          Delete

  Scenarios (http.enable_scenarios only, see scenarios.go):
    GET    /api/scenarios               List
    GET    /api/scenarios/current       Loaded scenario
    POST   /api/scenarios/load          Wipe data and load a scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, then period parsing)
  3. Call the settlement service
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Concurrent modification, retry with fresh data
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/station-ledger/billing"
	"github.com/warp/station-ledger/compliance"
	"github.com/warp/station-ledger/export"
	"github.com/warp/station-ledger/metrics"
	"github.com/warp/station-ledger/settlement"
)

const dateLayout = "2006-01-02"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *settlement.Service
	Documents compliance.Store
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// ExpiringWindowDays is the "expiring soon" horizon for documents.
	ExpiringWindowDays int

	// ScenariosEnabled mounts the demo scenario routes.
	ScenariosEnabled bool

	validate *validator.Validate
	now      func() time.Time

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. logger and m may be nil.
func NewHandler(ledger *settlement.Service, docs compliance.Store, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Ledger:             ledger,
		Documents:          docs,
		Logger:             logger,
		Metrics:            m,
		ExpiringWindowDays: compliance.DefaultWindowDays,
		validate:           validator.New(),
		now:                time.Now,
	}
}

// =============================================================================
// STATION HANDLERS
// =============================================================================

// ListStations returns all stations.
func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.Ledger.ListStations(r.Context())
	if err != nil {
		h.writeError(w, r, "Failed to list stations", err)
		return
	}

	dtos := make([]StationDTO, len(stations))
	for i, s := range stations {
		dtos[i] = s.Document()
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// GetStation returns a single station.
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	st, err := h.Ledger.GetStation(r.Context(), stationID(r))
	if err != nil {
		h.writeError(w, r, "Failed to get station", err)
		return
	}
	writeJSON(w, r, http.StatusOK, st.Document())
}

// CreateStation creates a station with a generated ID.
func (h *Handler) CreateStation(w http.ResponseWriter, r *http.Request) {
	st, ok := h.decodeStation(w, r)
	if !ok {
		return
	}
	saved, err := h.Ledger.SaveStation(r.Context(), st)
	if err != nil {
		h.writeError(w, r, "Failed to create station", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, saved.Document())
}

// UpdateStation replaces an existing station.
func (h *Handler) UpdateStation(w http.ResponseWriter, r *http.Request) {
	st, ok := h.decodeStation(w, r)
	if !ok {
		return
	}
	st.ID = stationID(r)
	saved, err := h.Ledger.UpdateStation(r.Context(), st)
	if err != nil {
		h.writeError(w, r, "Failed to update station", err)
		return
	}
	writeJSON(w, r, http.StatusOK, saved.Document())
}

// DeleteStation removes a station, its settlements and its compliance
// documents.
func (h *Handler) DeleteStation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := stationID(r)
	if err := h.Ledger.DeleteStation(ctx, id); err != nil {
		h.writeError(w, r, "Failed to delete station", err)
		return
	}

	docs, err := h.Documents.ListDocuments(ctx, string(id))
	if err != nil {
		h.writeError(w, r, "Failed to delete station documents", err)
		return
	}
	for _, doc := range docs {
		if err := h.Documents.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, compliance.ErrDocumentNotFound) {
			h.writeError(w, r, "Failed to delete station documents", err)
			return
		}
	}
	if len(docs) > 0 {
		h.Logger.Info("station documents removed", zap.String("station_id", string(id)), zap.Int("count", len(docs)))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeStation(w http.ResponseWriter, r *http.Request) (billing.Station, bool) {
	var req StationRequest
	if !h.decode(w, r, &req) {
		return billing.Station{}, false
	}
	start, err := billing.ParsePeriod(req.StartDate)
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid startDate format (use YYYY-MM)", err)
		return billing.Station{}, false
	}
	balance := decimal.Zero
	if raw := strings.TrimSpace(string(req.StartBalance)); raw != "" {
		n := billing.ParseLocaleNumber(raw)
		if !n.Valid {
			writeErrorStatus(w, r, http.StatusBadRequest, "Invalid startBalance", nil)
			return billing.Station{}, false
		}
		balance = n.Decimal
	}
	return billing.Station{
		Name:         req.Name,
		Landmark:     req.Landmark,
		StartDate:    start,
		StartBalance: balance,
	}, true
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// ListSettlements returns a station's settlements ordered by period, as JSON
// or as an XLSX download with ?format=xlsx.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := stationID(r)

	settlements, err := h.Ledger.ListSettlements(ctx, id)
	if err != nil {
		h.writeError(w, r, "Failed to list settlements", err)
		return
	}

	if r.URL.Query().Get("format") == export.FormatXLSX {
		st, err := h.Ledger.GetStation(ctx, id)
		if err != nil {
			h.writeError(w, r, "Failed to get station", err)
			return
		}
		body, err := export.SettlementsXLSX(st, settlements)
		if err != nil {
			h.writeError(w, r, "Failed to render settlements", err)
			return
		}
		h.Metrics.ExportRendered("settlements_xlsx")
		writeFile(w, export.ContentTypeXLSX, fmt.Sprintf("settlements-%s.xlsx", id), body)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i, s := range settlements {
		dtos[i] = s.Document()
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// PutSettlement derives and stores the settlement of one period.
func (h *Handler) PutSettlement(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeSettlement(w, r)
	if !ok {
		return
	}
	p, err := h.Ledger.UpsertSettlement(r.Context(), in)
	if err != nil {
		h.writeError(w, r, "Failed to save settlement", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toPreviewDTO(p))
}

// PreviewSettlement derives a settlement without storing it.
func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeSettlement(w, r)
	if !ok {
		return
	}
	p, err := h.Ledger.Preview(r.Context(), in)
	if err != nil {
		h.writeError(w, r, "Failed to preview settlement", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toPreviewDTO(p))
}

// DeleteSettlement removes the settlement of one period.
func (h *Handler) DeleteSettlement(w http.ResponseWriter, r *http.Request) {
	period, err := billing.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}
	key := billing.SettlementKey{StationID: stationID(r), Period: period}
	if err := h.Ledger.DeleteSettlement(r.Context(), key); err != nil {
		h.writeError(w, r, "Failed to delete settlement", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeSettlement(w http.ResponseWriter, r *http.Request) (billing.RawInput, bool) {
	period, err := billing.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return billing.RawInput{}, false
	}
	var req SettlementRequest
	if !h.decode(w, r, &req) {
		return billing.RawInput{}, false
	}
	return req.rawInput(stationID(r), period), true
}

// GetStatement returns the replayed ledger as JSON, or as a file with
// ?format=xlsx or ?format=pdf.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := stationID(r)
	stmt, err := h.Ledger.Statement(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "Failed to build statement", err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		writeJSON(w, r, http.StatusOK, toStatementDTO(stmt))
	case export.FormatXLSX:
		body, err := export.StatementXLSX(stmt)
		if err != nil {
			h.writeError(w, r, "Failed to render statement", err)
			return
		}
		h.Metrics.ExportRendered(format)
		writeFile(w, export.ContentTypeXLSX, fmt.Sprintf("statement-%s.xlsx", id), body)
	case export.FormatPDF:
		body, err := export.StatementPDF(stmt)
		if err != nil {
			h.writeError(w, r, "Failed to render statement", err)
			return
		}
		h.Metrics.ExportRendered(format)
		writeFile(w, export.ContentTypePDF, fmt.Sprintf("statement-%s.pdf", id), body)
	default:
		writeErrorStatus(w, r, http.StatusBadRequest, "Unknown format (use json, xlsx or pdf)", nil)
	}
}

// =============================================================================
// PRICE HANDLERS
// =============================================================================

// ListPrices returns the price schedule ordered by start.
func (h *Handler) ListPrices(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.Prices(r.Context())
	if err != nil {
		h.writeError(w, r, "Failed to list prices", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toPriceDTOs(entries))
}

// AddPrice appends a price starting after every existing entry.
func (h *Handler) AddPrice(w http.ResponseWriter, r *http.Request) {
	var req AddPriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := billing.ParsePeriod(req.StartDate)
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid startDate format (use YYYY-MM)", err)
		return
	}
	price, ok := parsePrice(w, r, req.Price)
	if !ok {
		return
	}

	entries, err := h.Ledger.AddPrice(r.Context(), price, start)
	if err != nil {
		h.writeError(w, r, "Failed to add price", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toPriceDTOs(entries))
}

// UpdatePrice changes the price of the entry starting at {start}.
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	start, err := billing.ParsePeriod(chi.URLParam(r, "start"))
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid start (use YYYY-MM)", err)
		return
	}
	var req UpdatePriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, ok := parsePrice(w, r, req.Price)
	if !ok {
		return
	}

	entries, err := h.Ledger.UpdatePrice(r.Context(), start, price)
	if err != nil {
		h.writeError(w, r, "Failed to update price", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toPriceDTOs(entries))
}

// DeletePrice removes the entry starting at {start}.
func (h *Handler) DeletePrice(w http.ResponseWriter, r *http.Request) {
	start, err := billing.ParsePeriod(chi.URLParam(r, "start"))
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid start (use YYYY-MM)", err)
		return
	}
	entries, err := h.Ledger.DeletePrice(r.Context(), start)
	if err != nil {
		h.writeError(w, r, "Failed to delete price", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toPriceDTOs(entries))
}

// ResolvePrice returns the price effective in ?period=YYYY-MM.
func (h *Handler) ResolvePrice(w http.ResponseWriter, r *http.Request) {
	period, err := billing.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}
	price, found, err := h.Ledger.ResolvePrice(r.Context(), period)
	if err != nil {
		h.writeError(w, r, "Failed to resolve price", err)
		return
	}

	dto := ResolvedPriceDTO{Period: period, Found: found}
	if found {
		dto.Price = &price
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func parsePrice(w http.ResponseWriter, r *http.Request, n Number) (decimal.Decimal, bool) {
	price := billing.ParseLocaleNumber(string(n))
	if !price.Valid || price.Decimal.IsNegative() {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid price", nil)
		return decimal.Decimal{}, false
	}
	return price.Decimal, true
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ListDocuments returns documents with their expiry status, soonest first.
// GET /api/documents?station_id=
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Documents.ListDocuments(r.Context(), r.URL.Query().Get("station_id"))
	if err != nil {
		h.writeError(w, r, "Failed to list documents", err)
		return
	}

	today := h.now()
	dtos := make([]DocumentDTO, len(docs))
	for i, d := range docs {
		dtos[i] = toDocumentDTO(d, today, h.ExpiringWindowDays)
	}
	writeJSON(w, r, http.StatusOK, dtos)
}

// CreateDocument stores a new document.
// POST /api/documents
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, err := h.Ledger.GetStation(r.Context(), billing.StationID(req.StationID)); err != nil {
		h.writeError(w, r, "Failed to create document", err)
		return
	}

	doc := compliance.Document{
		ID:        uuid.NewString(),
		StationID: req.StationID,
		Title:     req.Title,
		Number:    req.Number,
		CreatedAt: h.now().UTC(),
	}
	var err error
	if doc.IssuedAt, err = parseDate(req.IssuedAt); err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid issuedAt format (use YYYY-MM-DD)", err)
		return
	}
	if doc.ExpiresAt, err = parseDate(req.ExpiresAt); err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid expiresAt format (use YYYY-MM-DD)", err)
		return
	}

	if err := h.Documents.SaveDocument(r.Context(), doc); err != nil {
		h.writeError(w, r, "Failed to create document", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toDocumentDTO(doc, h.now(), h.ExpiringWindowDays))
}

// DeleteDocument removes a document.
// DELETE /api/documents/{id}
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.Documents.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "Failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func stationID(r *http.Request) billing.StationID {
	return billing.StationID(chi.URLParam(r, "id"))
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeErrorStatus(w, r, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeErrorStatus(w, r, http.StatusBadRequest, "Validation failed", errors.New(validationMessage(verrs)))
			return false
		}
		writeErrorStatus(w, r, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func validationMessage(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", err.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func writeFile(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err), zap.String("path", r.URL.Path))
	}
	writeErrorStatus(w, r, status, message, err)
}

func statusFor(err error) int {
	switch {
	case billing.IsNotFound(err), errors.Is(err, compliance.ErrDocumentNotFound):
		return http.StatusNotFound
	case billing.IsRetryable(err):
		return http.StatusConflict
	case billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, r, status, resp)
}
