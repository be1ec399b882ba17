/*
handlers.go - HTTP API handlers for the internal-control register

PURPOSE:
  Exposes the dicose engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the engine.

ENDPOINTS:
  Reference data:
    POST   /api/premises                    Create or update a premise
    POST   /api/subjects                    Create or update an animal/herd
    GET    /api/categories                  Category catalog (?species=)

  Events:
    POST   /api/events                      Submit a PENDING event
    GET    /api/events/{id}                 Get event
    POST   /api/events/{id}/approve         Approve (validate + book)
    POST   /api/events/{id}/reject          Reject
    GET    /api/events/{id}/mirror          Counterpart sale/purchase

  Sheets:
    POST   /api/sheets                      Open a sheet
    GET    /api/sheets/{id}                 Get sheet
    GET    /api/sheets/{id}/entries         Entries, voided included
    GET    /api/sheets/{id}/balances        Live or frozen balances
    POST   /api/sheets/{id}/close           Close the period

  Entries:
    POST   /api/entries/{id}/void           Void an entry
    POST   /api/entries/{id}/corrections    Void + corrective entry
    GET    /api/entries/{id}/chain          Amendment chain

  Guides & compliance:
    GET    /api/guides/{series}/{number}    Get guide
    GET    /api/violations                  List (?open=true)
    POST   /api/violations/{id}/resolve     Resolve manually
    POST   /api/compliance/scan             Run the detector now
    GET    /api/audit                       Audit log (?premise_id=&subject=)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (closed sheet, already voided, event not pending)
  - 422: Approval blocked; the body lists every issue
  - 500: Consistency faults and internal errors

SECURITY NOTE:
  No authentication or authorization. actor_id is taken from the body as
  given; an identity layer in front of this API is expected to set it.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the handlers need beyond the engine.
type Store interface {
	dicose.TxStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *dicose.Engine
	Store  Store
	Logger *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given store and engine.
func NewHandler(store Store, engine *dicose.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine: engine,
		Store:  store,
		Logger: logger,
	}
}

// =============================================================================
// REFERENCE DATA HANDLERS
// =============================================================================

// CreatePremise creates or updates a premise.
// POST /api/premises
func (h *Handler) CreatePremise(w http.ResponseWriter, r *http.Request) {
	var req PremiseDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	p := dicose.Premise{
		ID:                 req.ID,
		FirmID:             req.FirmID,
		Name:               req.Name,
		RegistrationNumber: req.RegistrationNumber,
	}
	if err := h.Store.SavePremise(r.Context(), p); err != nil {
		h.writeEngineError(w, "Failed to save premise", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// CreateSubject creates or updates an animal or herd.
// POST /api/subjects
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req SubjectDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	scope := dicose.Scope(req.Scope)
	if scope != dicose.ScopeAnimal && scope != dicose.ScopeHerd {
		writeError(w, http.StatusBadRequest, "scope must be ANIMAL or HERD", nil)
		return
	}

	s := dicose.Subject{
		ID:         req.ID,
		Scope:      scope,
		PremiseID:  req.PremiseID,
		Species:    dicose.Species(req.Species),
		CategoryID: ledger.CategoryID(req.CategoryID),
	}
	if err := h.Store.SaveSubject(r.Context(), s); err != nil {
		h.writeEngineError(w, "Failed to save subject", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// ListCategories returns the category catalog.
// GET /api/categories?species=BOVINO
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	species := r.URL.Query().Get("species")

	dtos := []CategoryDTO{}
	for _, c := range h.Engine.Categories.List() {
		if species != "" && c.Species != species {
			continue
		}
		dtos = append(dtos, CategoryDTO{ID: string(c.ID), Species: c.Species, Name: c.Name, Order: c.Order})
	}

	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// SubmitEvent stores a new PENDING event.
// POST /api/events
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req SubmitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// A missing date is accepted here and reported by the validator at approval.
	var eventDate time.Time
	if req.EventDate != "" {
		d, err := parseDay(req.EventDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid event_date format (use YYYY-MM-DD)", err)
			return
		}
		eventDate = d
	}

	ev, err := h.Engine.SubmitEvent(r.Context(), dicose.SubmitEventInput{
		Event:   req.toEvent(eventDate),
		ActorID: req.ActorID,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to submit event", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEventDTO(*ev))
}

// GetEvent returns a single event.
// GET /api/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := dicose.EventID(chi.URLParam(r, "id"))

	ev, err := h.Store.GetEvent(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to get event", err)
		return
	}

	writeJSON(w, http.StatusOK, toEventDTO(*ev))
}

// ApproveEvent validates a PENDING event and books it.
// POST /api/events/{id}/approve
func (h *Handler) ApproveEvent(w http.ResponseWriter, r *http.Request) {
	id := dicose.EventID(chi.URLParam(r, "id"))

	var req ApproveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required", nil)
		return
	}

	res, err := h.Engine.Approve(r.Context(), id, req.ActorID)
	if err != nil {
		h.writeEngineError(w, "Approval failed", err)
		return
	}

	resp := ApprovalResponse{
		Event:   toEventDTO(res.Event),
		Notices: toIssueDTOs(res.Notices),
	}
	if res.Entry != nil {
		entry := toEntryDTO(*res.Entry)
		resp.Entry = &entry
	}
	if res.Mirror != nil {
		mirror := toEventDTO(*res.Mirror)
		resp.Mirror = &mirror
	}
	writeJSON(w, http.StatusOK, resp)
}

// RejectEvent rejects a PENDING event.
// POST /api/events/{id}/reject
func (h *Handler) RejectEvent(w http.ResponseWriter, r *http.Request) {
	id := dicose.EventID(chi.URLParam(r, "id"))

	var req RejectEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required", nil)
		return
	}

	ev, err := h.Engine.Reject(r.Context(), id, req.ActorID, req.Reason)
	if err != nil {
		h.writeEngineError(w, "Rejection failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toEventDTO(*ev))
}

// GetMirror returns the counterpart of a sale or purchase.
// GET /api/events/{id}/mirror
func (h *Handler) GetMirror(w http.ResponseWriter, r *http.Request) {
	id := dicose.EventID(chi.URLParam(r, "id"))

	mirror, err := h.Engine.Mirror(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to find mirror", err)
		return
	}
	if mirror == nil {
		writeError(w, http.StatusNotFound, "No mirror event", nil)
		return
	}

	writeJSON(w, http.StatusOK, toEventDTO(*mirror))
}

// =============================================================================
// SHEET HANDLERS
// =============================================================================

// OpenSheet opens a period sheet for a premise and species.
// POST /api/sheets
func (h *Handler) OpenSheet(w http.ResponseWriter, r *http.Request) {
	var req OpenSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	// Without explicit bounds the sheet covers the current declaration year.
	period := dicose.FiscalPeriod(h.Engine.Now())
	if req.PeriodStart != "" || req.PeriodEnd != "" {
		start, err := parseDay(req.PeriodStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_start format (use YYYY-MM-DD)", err)
			return
		}
		end, err := parseDay(req.PeriodEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
			return
		}
		period = ledger.Period{Start: start, End: end}
	}

	sheet, err := h.Engine.OpenSheet(r.Context(), req.PremiseID, dicose.Species(req.Species), period, req.ActorID)
	if err != nil {
		h.writeEngineError(w, "Failed to open sheet", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSheetDTO(*sheet))
}

// GetSheet returns a single sheet.
// GET /api/sheets/{id}
func (h *Handler) GetSheet(w http.ResponseWriter, r *http.Request) {
	id := ledger.SheetID(chi.URLParam(r, "id"))

	sheet, err := h.Store.GetSheet(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to get sheet", err)
		return
	}

	writeJSON(w, http.StatusOK, toSheetDTO(*sheet))
}

// ListSheetEntries returns every entry of a sheet, voided included.
// GET /api/sheets/{id}/entries
func (h *Handler) ListSheetEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.SheetID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetSheet(ctx, id); err != nil {
		h.writeEngineError(w, "Failed to get sheet", err)
		return
	}
	entries, err := h.Store.ListEntries(ctx, id)
	if err != nil {
		h.writeEngineError(w, "Failed to list entries", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": toEntryDTOs(entries)})
}

// GetSheetBalances returns frozen balances for a CLOSED sheet and live ones
// for an OPEN sheet.
// GET /api/sheets/{id}/balances
func (h *Handler) GetSheetBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.SheetID(chi.URLParam(r, "id"))

	sheet, err := h.Store.GetSheet(ctx, id)
	if err != nil {
		h.writeEngineError(w, "Failed to get sheet", err)
		return
	}
	balances, err := h.Engine.Periods.Balances(ctx, id)
	if err != nil {
		h.writeEngineError(w, "Failed to compute balances", err)
		return
	}

	writeJSON(w, http.StatusOK, BalancesResponse{
		SheetID:    string(sheet.ID),
		Status:     string(sheet.Status),
		Balances:   toBalanceDTOs(balances),
		TotalHeads: ledger.TotalHeads(balances),
	})
}

// CloseSheet seals a period.
// POST /api/sheets/{id}/close
func (h *Handler) CloseSheet(w http.ResponseWriter, r *http.Request) {
	id := ledger.SheetID(chi.URLParam(r, "id"))

	var req CloseSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required", nil)
		return
	}

	out, err := h.Engine.CloseSheet(r.Context(), id, req.ActorID)
	if err != nil {
		h.writeEngineError(w, "Failed to close sheet", err)
		return
	}

	writeJSON(w, http.StatusOK, CloseSheetResponse{
		Sheet:    toSheetDTO(out.Sheet),
		Balances: toBalanceDTOs(out.Balances),
	})
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// VoidEntry voids an entry on an OPEN sheet.
// POST /api/entries/{id}/void
func (h *Handler) VoidEntry(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	var req VoidEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required", nil)
		return
	}

	entry, err := h.Engine.Corrections.VoidEntry(r.Context(), id, req.Reason, req.ActorID)
	if err != nil {
		h.writeEngineError(w, "Failed to void entry", err)
		return
	}

	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

// CorrectEntry voids an entry and appends its replacement.
// POST /api/entries/{id}/corrections
func (h *Handler) CorrectEntry(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required", nil)
		return
	}

	in := ledger.CorrectionInput{
		Operation:   req.Operation,
		GuideSeries: req.GuideSeries,
		GuideNumber: req.GuideNumber,
		Lines:       toLines(req.Lines),
	}
	if req.EntryDate != nil {
		d, err := parseDay(*req.EntryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid entry_date format (use YYYY-MM-DD)", err)
			return
		}
		in.EntryDate = &d
	}

	entry, err := h.Engine.Corrections.CreateCorrection(r.Context(), id, in, req.Reason, req.ActorID)
	if err != nil {
		h.writeEngineError(w, "Failed to correct entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// GetEntryChain returns the amendment chain ending at the entry.
// GET /api/entries/{id}/chain
func (h *Handler) GetEntryChain(w http.ResponseWriter, r *http.Request) {
	id := ledger.EntryID(chi.URLParam(r, "id"))

	chain, err := h.Engine.Corrections.Chain(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to load chain", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chain": toEntryDTOs(chain)})
}

// =============================================================================
// GUIDE & COMPLIANCE HANDLERS
// =============================================================================

// GetGuide returns a registered guide.
// GET /api/guides/{series}/{number}
func (h *Handler) GetGuide(w http.ResponseWriter, r *http.Request) {
	key := dicose.GuideKey{Series: chi.URLParam(r, "series"), Number: chi.URLParam(r, "number")}

	g, err := h.Store.GetGuide(r.Context(), key)
	if err != nil {
		h.writeEngineError(w, "Failed to get guide", err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "Guide not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toGuideDTO(*g))
}

// ListViolations returns compliance violations.
// GET /api/violations?open=true
func (h *Handler) ListViolations(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"

	vs, err := h.Store.ListViolations(r.Context(), openOnly)
	if err != nil {
		h.writeEngineError(w, "Failed to list violations", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"violations": toViolationDTOs(vs)})
}

// ResolveViolation marks a violation resolved.
// POST /api/violations/{id}/resolve
func (h *Handler) ResolveViolation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Engine.ResolveViolation(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to resolve violation", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "id": id})
}

// ScanCompliance runs the violation detector now.
// POST /api/compliance/scan
func (h *Handler) ScanCompliance(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ScanCompliance(r.Context())
	if err != nil {
		h.writeEngineError(w, "Compliance scan failed", err)
		return
	}

	resolved := res.Resolved
	if resolved == nil {
		resolved = []string{}
	}
	writeJSON(w, http.StatusOK, ScanResponse{
		Detected: toViolationDTOs(res.Detected),
		Resolved: resolved,
	})
}

// ListAudit returns audit records.
// GET /api/audit?premise_id=&subject=&actor_id=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.Store.QueryAudit(r.Context(), ledger.AuditFilter{
		PremiseID: q.Get("premise_id"),
		Subject:   q.Get("subject"),
		ActorID:   q.Get("actor_id"),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to query audit log", err)
		return
	}

	type auditDTO struct {
		ID        string            `json:"id"`
		Timestamp string            `json:"timestamp"`
		ActorID   string            `json:"actor_id,omitempty"`
		Action    string            `json:"action"`
		PremiseID string            `json:"premise_id,omitempty"`
		Subject   string            `json:"subject,omitempty"`
		Payload   map[string]string `json:"payload,omitempty"`
	}
	dtos := make([]auditDTO, len(entries))
	for i, e := range entries {
		dtos[i] = auditDTO{
			ID:        e.ID,
			Timestamp: formatStamp(e.Timestamp),
			ActorID:   e.ActorID,
			Action:    string(e.Action),
			PremiseID: e.PremiseID,
			Subject:   e.Subject,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"audit": dtos})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error classes to HTTP statuses.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	var approvalErr *dicose.ApprovalError
	switch {
	case errors.As(err, &approvalErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   message,
			Code:    "approval_blocked",
			Details: err.Error(),
			Issues:  toIssueDTOs(approvalErr.Issues),
		})
	case dicose.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsConsistency(err):
		h.Logger.Error("consistency fault", zap.String("op", message), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: message, Code: "consistency_fault", Details: err.Error(),
		})
	default:
		h.Logger.Error("request failed", zap.String("op", message), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
