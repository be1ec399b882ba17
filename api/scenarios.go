/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	register data. Each scenario creates premises, herds, sheets and events
	and drives them through the engine, so every record is produced by the
	same approval path production traffic uses.

AVAILABLE SCENARIOS:

	premise-year:  One premise, bovine sheet, purchases/births/deaths/category change
	guide-mirror:  A sale on one premise and the matching purchase on another
	late-reports:  Deaths reported 3, 27 and 31 days late, plus a compliance scan
	period-close:  Last year's sheet closed, this year's sheet carrying its balances

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create premises and subjects
 3. Open sheets for the declaration year
 4. Submit events and approve most of them through the engine
 5. Leave some events PENDING to play with

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "guide-mirror"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - dicose/engine.go: The engine the loaders drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
	"go.uber.org/zap"
)

const scenarioActor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "premise-year",
		Name:        "Premise Year",
		Description: "Bovine sheet with a purchase, births, a death and a category change; one sale pending",
	},
	{
		ID:          "guide-mirror",
		Name:        "Guide Mirror",
		Description: "Sale on premise A with guide B-42; matching purchase on premise B pending",
	},
	{
		ID:          "late-reports",
		Name:        "Late Reports",
		Description: "Deaths 3, 27 and 31 days old; the oldest is flagged by the compliance scan",
	},
	{
		ID:          "period-close",
		Name:        "Period Close",
		Description: "Previous declaration year closed; current sheet opens with carried balances",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loaders := map[string]func(context.Context) error{
		"premise-year": h.loadPremiseYearScenario,
		"guide-mirror": h.loadGuideMirrorScenario,
		"late-reports": h.loadLateReportsScenario,
		"period-close": h.loadPeriodCloseScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.Logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadPremiseYearScenario(ctx context.Context) error {
	now := h.Engine.Now()

	if err := h.Store.SavePremise(ctx, dicose.Premise{ID: "P-001", Name: "Estancia La Aurora", RegistrationNumber: "210001"}); err != nil {
		return err
	}
	if err := h.saveHerds(ctx, "P-001", dicose.SpeciesBovine, map[string]ledger.CategoryID{
		"H-VACAS":    "BOV-VACAS",
		"H-TERNEROS": "BOV-TERNEROS",
	}); err != nil {
		return err
	}
	if _, err := h.Engine.OpenSheet(ctx, "P-001", dicose.SpeciesBovine, dicose.FiscalPeriod(now), scenarioActor); err != nil {
		return err
	}

	approved := []dicose.Event{
		herdEvent("P-001", "H-VACAS", dicose.EventPurchase, 50, daysAgo(now, 20),
			withGuide("A", "1000", "210099")),
		herdEvent("P-001", "H-TERNEROS", dicose.EventBirth, 12, daysAgo(now, 10)),
		herdEvent("P-001", "H-VACAS", dicose.EventDeath, 1, daysAgo(now, 5)),
		herdEvent("P-001", "H-TERNEROS", dicose.EventCategoryChange, 4, daysAgo(now, 2),
			withCategories("BOV-TERNEROS", "BOV-NOV-1-2")),
	}
	for _, ev := range approved {
		if _, err := h.submitAndApprove(ctx, ev); err != nil {
			return err
		}
	}

	_, err := h.submit(ctx, herdEvent("P-001", "H-VACAS", dicose.EventSale, 5, daysAgo(now, 1),
		withGuide("A", "2000", "210050")))
	return err
}

func (h *Handler) loadGuideMirrorScenario(ctx context.Context) error {
	now := h.Engine.Now()
	period := dicose.FiscalPeriod(now)

	premises := []dicose.Premise{
		{ID: "P-A", Name: "Establecimiento A", RegistrationNumber: "210001"},
		{ID: "P-B", Name: "Establecimiento B", RegistrationNumber: "210002"},
	}
	for _, p := range premises {
		if err := h.Store.SavePremise(ctx, p); err != nil {
			return err
		}
		if err := h.saveHerds(ctx, p.ID, dicose.SpeciesBovine, map[string]ledger.CategoryID{
			"H-" + p.ID: "BOV-NOV-2-3",
		}); err != nil {
			return err
		}
		if _, err := h.Engine.OpenSheet(ctx, p.ID, dicose.SpeciesBovine, period, scenarioActor); err != nil {
			return err
		}
	}

	if _, err := h.submitAndApprove(ctx, herdEvent("P-A", "H-P-A", dicose.EventSale, 42, daysAgo(now, 3),
		withGuide("B", "42", "210002"))); err != nil {
		return err
	}
	_, err := h.submit(ctx, herdEvent("P-B", "H-P-B", dicose.EventPurchase, 42, daysAgo(now, 2),
		withGuide("B", "42", "210001")))
	return err
}

func (h *Handler) loadLateReportsScenario(ctx context.Context) error {
	now := h.Engine.Now()

	if err := h.Store.SavePremise(ctx, dicose.Premise{ID: "P-001", Name: "Estancia La Aurora", RegistrationNumber: "210001"}); err != nil {
		return err
	}
	if err := h.saveHerds(ctx, "P-001", dicose.SpeciesBovine, map[string]ledger.CategoryID{
		"H-VACAS": "BOV-VACAS",
	}); err != nil {
		return err
	}
	if _, err := h.Engine.OpenSheet(ctx, "P-001", dicose.SpeciesBovine, dicose.FiscalPeriod(now), scenarioActor); err != nil {
		return err
	}

	for _, age := range []int{3, 27, 31} {
		ev := herdEvent("P-001", "H-VACAS", dicose.EventDeath, 1, daysAgo(now, age))
		ev.Notes = fmt.Sprintf("reported %d days after the fact", age)
		if _, err := h.submit(ctx, ev); err != nil {
			return err
		}
	}

	_, err := h.Engine.ScanCompliance(ctx)
	return err
}

func (h *Handler) loadPeriodCloseScenario(ctx context.Context) error {
	now := h.Engine.Now()
	current := dicose.FiscalPeriod(now)
	previous := dicose.FiscalPeriod(current.Start.AddDate(0, 0, -1))

	if err := h.Store.SavePremise(ctx, dicose.Premise{ID: "P-001", Name: "Estancia La Aurora", RegistrationNumber: "210001"}); err != nil {
		return err
	}
	if err := h.saveHerds(ctx, "P-001", dicose.SpeciesBovine, map[string]ledger.CategoryID{
		"H-TERNEROS": "BOV-TERNEROS",
	}); err != nil {
		return err
	}

	prior, err := h.Engine.OpenSheet(ctx, "P-001", dicose.SpeciesBovine, previous, scenarioActor)
	if err != nil {
		return err
	}
	for _, ev := range []dicose.Event{
		herdEvent("P-001", "H-TERNEROS", dicose.EventBirth, 20, previous.Start.AddDate(0, 1, 0)),
		herdEvent("P-001", "H-TERNEROS", dicose.EventCategoryChange, 5, previous.Start.AddDate(0, 10, 0),
			withCategories("BOV-TERNEROS", "BOV-NOV-1-2")),
	} {
		if _, err := h.submitAndApprove(ctx, ev); err != nil {
			return err
		}
	}
	if _, err := h.Engine.CloseSheet(ctx, prior.ID, scenarioActor); err != nil {
		return err
	}

	_, err = h.Engine.OpenSheet(ctx, "P-001", dicose.SpeciesBovine, current, scenarioActor)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) submit(ctx context.Context, ev dicose.Event) (*dicose.Event, error) {
	return h.Engine.SubmitEvent(ctx, dicose.SubmitEventInput{Event: ev, ActorID: scenarioActor})
}

func (h *Handler) submitAndApprove(ctx context.Context, ev dicose.Event) (*dicose.ApprovalResult, error) {
	created, err := h.submit(ctx, ev)
	if err != nil {
		return nil, err
	}
	res, err := h.Engine.Approve(ctx, created.ID, scenarioActor)
	if err != nil {
		return nil, fmt.Errorf("approve %s %s: %w", ev.Type, ev.HerdID, err)
	}
	return res, nil
}

func (h *Handler) saveHerds(ctx context.Context, premiseID string, species dicose.Species, herds map[string]ledger.CategoryID) error {
	for id, cat := range herds {
		s := dicose.Subject{ID: id, Scope: dicose.ScopeHerd, PremiseID: premiseID, Species: species, CategoryID: cat}
		if err := h.Store.SaveSubject(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

type eventOption func(*dicose.Event)

func withGuide(series, number, counterpart string) eventOption {
	return func(e *dicose.Event) {
		e.GuideSeries = series
		e.GuideNumber = number
		e.CounterpartRegistration = counterpart
	}
}

func withCategories(from, to ledger.CategoryID) eventOption {
	return func(e *dicose.Event) {
		e.CategoryFrom = from
		e.CategoryTo = to
	}
}

func herdEvent(premiseID, herdID string, t dicose.EventType, heads int, date time.Time, opts ...eventOption) dicose.Event {
	ev := dicose.Event{
		PremiseID: premiseID,
		Type:      t,
		Scope:     dicose.ScopeHerd,
		Species:   dicose.SpeciesBovine,
		HerdID:    herdID,
		Heads:     heads,
		EventDate: date,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev
}

func daysAgo(now time.Time, n int) time.Time {
	return ledger.DayOf(now).AddDate(0, 0, -n)
}
