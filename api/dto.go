/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the dicose/ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DATES:
  Calendar dates (event_date, period bounds, entry_date) are YYYY-MM-DD.
  Timestamps (approved_at, created_at, ...) are RFC3339.
  Kilograms travel as decimal strings ("412.5").

VALIDATION:
  Validation is done in handlers and in the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// REFERENCE DATA
// =============================================================================

// PremiseDTO represents a registered premise.
type PremiseDTO struct {
	ID                 string `json:"id"`
	FirmID             string `json:"firm_id,omitempty"`
	Name               string `json:"name,omitempty"`
	RegistrationNumber string `json:"registration_number"`
}

// SubjectDTO represents an animal or herd.
type SubjectDTO struct {
	ID         string `json:"id"`
	Scope      string `json:"scope"`
	PremiseID  string `json:"premise_id,omitempty"`
	Species    string `json:"species,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

// CategoryDTO represents a register category.
type CategoryDTO struct {
	ID      string `json:"id"`
	Species string `json:"species"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventDTO represents an event in API responses.
type EventDTO struct {
	ID                      string           `json:"id"`
	FirmID                  string           `json:"firm_id,omitempty"`
	PremiseID               string           `json:"premise_id"`
	Type                    string           `json:"type"`
	Scope                   string           `json:"scope,omitempty"`
	Species                 string           `json:"species,omitempty"`
	AnimalID                string           `json:"animal_id,omitempty"`
	HerdID                  string           `json:"herd_id,omitempty"`
	Heads                   int              `json:"heads"`
	HeadsTo                 int              `json:"heads_to,omitempty"`
	Kilograms               *decimal.Decimal `json:"kilograms,omitempty"`
	CategoryID              string           `json:"category_id,omitempty"`
	CategoryFrom            string           `json:"category_from,omitempty"`
	CategoryTo              string           `json:"category_to,omitempty"`
	GuideSeries             string           `json:"guide_series,omitempty"`
	GuideNumber             string           `json:"guide_number,omitempty"`
	CounterpartRegistration string           `json:"counterpart_registration,omitempty"`
	WithdrawalDays          int              `json:"withdrawal_days,omitempty"`
	EventDate               string           `json:"event_date,omitempty"`
	Notes                   string           `json:"notes,omitempty"`
	Status                  string           `json:"status"`
	ApprovedBy              string           `json:"approved_by,omitempty"`
	ApprovedAt              *string          `json:"approved_at,omitempty"`
	RejectedBy              string           `json:"rejected_by,omitempty"`
	RejectedAt              *string          `json:"rejected_at,omitempty"`
	RejectionReason         string           `json:"rejection_reason,omitempty"`
	MirrorEventID           string           `json:"mirror_event_id,omitempty"`
	EntryID                 string           `json:"entry_id,omitempty"`
	CreatedBy               string           `json:"created_by,omitempty"`
	CreatedAt               string           `json:"created_at,omitempty"`
}

// SubmitEventRequest is the intake payload for a new PENDING event.
type SubmitEventRequest struct {
	ID                      string           `json:"id,omitempty"`
	FirmID                  string           `json:"firm_id,omitempty"`
	PremiseID               string           `json:"premise_id"`
	Type                    string           `json:"type"`
	Scope                   string           `json:"scope"`
	Species                 string           `json:"species"`
	AnimalID                string           `json:"animal_id,omitempty"`
	HerdID                  string           `json:"herd_id,omitempty"`
	Heads                   int              `json:"heads"`
	HeadsTo                 int              `json:"heads_to,omitempty"`
	Kilograms               *decimal.Decimal `json:"kilograms,omitempty"`
	CategoryID              string           `json:"category_id,omitempty"`
	CategoryFrom            string           `json:"category_from,omitempty"`
	CategoryTo              string           `json:"category_to,omitempty"`
	GuideSeries             string           `json:"guide_series,omitempty"`
	GuideNumber             string           `json:"guide_number,omitempty"`
	CounterpartRegistration string           `json:"counterpart_registration,omitempty"`
	WithdrawalDays          int              `json:"withdrawal_days,omitempty"`
	EventDate               string           `json:"event_date"`
	Notes                   string           `json:"notes,omitempty"`
	ActorID                 string           `json:"actor_id"`
}

// ApproveEventRequest is the body of POST /api/events/{id}/approve.
type ApproveEventRequest struct {
	ActorID string `json:"actor_id"`
}

// RejectEventRequest is the body of POST /api/events/{id}/reject.
type RejectEventRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// IssueDTO is one validator finding.
type IssueDTO struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	Days     int    `json:"days,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

// ApprovalResponse is returned by a successful approval.
type ApprovalResponse struct {
	Event   EventDTO   `json:"event"`
	Entry   *EntryDTO  `json:"entry,omitempty"`
	Notices []IssueDTO `json:"notices"`
	Mirror  *EventDTO  `json:"mirror,omitempty"`
}

// =============================================================================
// SHEETS, ENTRIES, BALANCES
// =============================================================================

// SheetDTO represents a register sheet.
type SheetDTO struct {
	ID                 string  `json:"id"`
	PremiseID          string  `json:"premise_id"`
	TypeCode           string  `json:"type_code"`
	RegistrationNumber string  `json:"registration_number,omitempty"`
	PeriodStart        string  `json:"period_start"`
	PeriodEnd          string  `json:"period_end"`
	Status             string  `json:"status"`
	OpenedBy           string  `json:"opened_by,omitempty"`
	CreatedAt          string  `json:"created_at,omitempty"`
	ClosedBy           string  `json:"closed_by,omitempty"`
	ClosedAt           *string `json:"closed_at,omitempty"`
}

// OpenSheetRequest opens the sheet of a premise for one species.
type OpenSheetRequest struct {
	PremiseID   string `json:"premise_id"`
	Species     string `json:"species"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	ActorID     string `json:"actor_id"`
}

// CloseSheetRequest is the body of POST /api/sheets/{id}/close.
type CloseSheetRequest struct {
	ActorID string `json:"actor_id"`
}

// CloseSheetResponse carries the sealed sheet and its frozen balances.
type CloseSheetResponse struct {
	Sheet    SheetDTO     `json:"sheet"`
	Balances []BalanceDTO `json:"balances"`
}

// LineDTO represents one category movement.
type LineDTO struct {
	CategoryID string `json:"category_id"`
	Direction  string `json:"direction"`
	Heads      int    `json:"heads"`
}

// EntryDTO represents a ledger entry.
type EntryDTO struct {
	ID               string    `json:"id"`
	SheetID          string    `json:"sheet_id"`
	SourceEventID    string    `json:"source_event_id,omitempty"`
	EntryDate        string    `json:"entry_date"`
	Operation        string    `json:"operation"`
	GuideSeries      string    `json:"guide_series,omitempty"`
	GuideNumber      string    `json:"guide_number,omitempty"`
	Lines            []LineDTO `json:"lines"`
	Voided           bool      `json:"voided"`
	VoidReason       string    `json:"void_reason,omitempty"`
	VoidedBy         string    `json:"voided_by,omitempty"`
	VoidedAt         *string   `json:"voided_at,omitempty"`
	CorrectedEntryID *string   `json:"corrected_entry_id,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	CreatedAt        string    `json:"created_at,omitempty"`
}

// BalanceDTO represents the balance of one category on a sheet.
type BalanceDTO struct {
	CategoryID string `json:"category_id"`
	Initial    int    `json:"initial"`
	TotalIn    int    `json:"total_in"`
	TotalOut   int    `json:"total_out"`
	Final      int    `json:"final"`
}

// BalancesResponse is returned by GET /api/sheets/{id}/balances.
type BalancesResponse struct {
	SheetID    string       `json:"sheet_id"`
	Status     string       `json:"status"`
	Balances   []BalanceDTO `json:"balances"`
	TotalHeads int          `json:"total_heads"`
}

// VoidEntryRequest is the body of POST /api/entries/{id}/void.
type VoidEntryRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

// CorrectionRequest supersedes an entry. Omitted fields are copied from the
// original; omitted lines are cloned.
type CorrectionRequest struct {
	Reason      string    `json:"reason"`
	ActorID     string    `json:"actor_id"`
	EntryDate   *string   `json:"entry_date,omitempty"`
	Operation   *string   `json:"operation,omitempty"`
	GuideSeries *string   `json:"guide_series,omitempty"`
	GuideNumber *string   `json:"guide_number,omitempty"`
	Lines       []LineDTO `json:"lines,omitempty"`
}

// =============================================================================
// GUIDES & COMPLIANCE
// =============================================================================

// GuideDTO represents a movement guide.
type GuideDTO struct {
	Series                  string `json:"series"`
	Number                  string `json:"number"`
	Species                 string `json:"species,omitempty"`
	Status                  string `json:"status"`
	OriginRegistration      string `json:"origin_registration,omitempty"`
	DestinationRegistration string `json:"destination_registration,omitempty"`
	RegisteredByEvent       string `json:"registered_by_event,omitempty"`
	RegisteredAt            string `json:"registered_at,omitempty"`
}

// ViolationDTO represents a compliance violation.
type ViolationDTO struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Severity     string  `json:"severity"`
	PremiseID    string  `json:"premise_id,omitempty"`
	EventID      string  `json:"event_id,omitempty"`
	SubjectID    string  `json:"subject_id,omitempty"`
	DaysExceeded int     `json:"days_exceeded,omitempty"`
	Description  string  `json:"description,omitempty"`
	DetectedAt   string  `json:"detected_at"`
	ResolvedAt   *string `json:"resolved_at,omitempty"`
}

// ScanResponse is returned by POST /api/compliance/scan.
type ScanResponse struct {
	Detected []ViolationDTO `json:"detected"`
	Resolved []string       `json:"resolved"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string     `json:"error"`
	Code    string     `json:"code,omitempty"`
	Details any        `json:"details,omitempty"`
	Issues  []IssueDTO `json:"issues,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatStamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatStampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatStamp(*t)
	return &s
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(ledger.DateLayout)
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(ledger.DateLayout, s)
}

func toEventDTO(e dicose.Event) EventDTO {
	return EventDTO{
		ID:                      string(e.ID),
		FirmID:                  e.FirmID,
		PremiseID:               e.PremiseID,
		Type:                    string(e.Type),
		Scope:                   string(e.Scope),
		Species:                 string(e.Species),
		AnimalID:                e.AnimalID,
		HerdID:                  e.HerdID,
		Heads:                   e.Heads,
		HeadsTo:                 e.HeadsTo,
		Kilograms:               e.Kilograms,
		CategoryID:              string(e.CategoryID),
		CategoryFrom:            string(e.CategoryFrom),
		CategoryTo:              string(e.CategoryTo),
		GuideSeries:             e.GuideSeries,
		GuideNumber:             e.GuideNumber,
		CounterpartRegistration: e.CounterpartRegistration,
		WithdrawalDays:          e.WithdrawalDays,
		EventDate:               formatDay(e.EventDate),
		Notes:                   e.Notes,
		Status:                  string(e.Status),
		ApprovedBy:              e.ApprovedBy,
		ApprovedAt:              formatStampPtr(e.ApprovedAt),
		RejectedBy:              e.RejectedBy,
		RejectedAt:              formatStampPtr(e.RejectedAt),
		RejectionReason:         e.RejectionReason,
		MirrorEventID:           string(e.MirrorEventID),
		EntryID:                 string(e.EntryID),
		CreatedBy:               e.CreatedBy,
		CreatedAt:               formatStamp(e.CreatedAt),
	}
}

// toEvent maps an intake request; the event date must already be parsed.
func (req SubmitEventRequest) toEvent(eventDate time.Time) dicose.Event {
	return dicose.Event{
		ID:                      dicose.EventID(req.ID),
		FirmID:                  req.FirmID,
		PremiseID:               req.PremiseID,
		Type:                    dicose.EventType(req.Type),
		Scope:                   dicose.Scope(req.Scope),
		Species:                 dicose.Species(req.Species),
		AnimalID:                req.AnimalID,
		HerdID:                  req.HerdID,
		Heads:                   req.Heads,
		HeadsTo:                 req.HeadsTo,
		Kilograms:               req.Kilograms,
		CategoryID:              ledger.CategoryID(req.CategoryID),
		CategoryFrom:            ledger.CategoryID(req.CategoryFrom),
		CategoryTo:              ledger.CategoryID(req.CategoryTo),
		GuideSeries:             req.GuideSeries,
		GuideNumber:             req.GuideNumber,
		CounterpartRegistration: req.CounterpartRegistration,
		WithdrawalDays:          req.WithdrawalDays,
		EventDate:               eventDate,
		Notes:                   req.Notes,
	}
}

func toIssueDTOs(is dicose.Issues) []IssueDTO {
	dtos := make([]IssueDTO, len(is))
	for i, issue := range is {
		dtos[i] = IssueDTO{
			Code:     string(issue.Code),
			Severity: string(issue.Severity),
			Kind:     string(issue.Kind),
			Field:    issue.Field,
			Message:  issue.Message,
			Days:     issue.Days,
			Ref:      issue.Ref,
		}
	}
	return dtos
}

func toSheetDTO(s ledger.Sheet) SheetDTO {
	return SheetDTO{
		ID:                 string(s.ID),
		PremiseID:          s.PremiseID,
		TypeCode:           s.TypeCode,
		RegistrationNumber: s.RegistrationNumber,
		PeriodStart:        formatDay(s.Period.Start),
		PeriodEnd:          formatDay(s.Period.End),
		Status:             string(s.Status),
		OpenedBy:           s.OpenedBy,
		CreatedAt:          formatStamp(s.CreatedAt),
		ClosedBy:           s.ClosedBy,
		ClosedAt:           formatStampPtr(s.ClosedAt),
	}
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	lines := make([]LineDTO, len(e.Lines))
	for i, l := range e.Lines {
		lines[i] = LineDTO{CategoryID: string(l.CategoryID), Direction: string(l.Direction), Heads: l.Heads}
	}
	dto := EntryDTO{
		ID:            string(e.ID),
		SheetID:       string(e.SheetID),
		SourceEventID: e.SourceEventID,
		EntryDate:     formatDay(e.EntryDate),
		Operation:     e.Operation,
		GuideSeries:   e.GuideSeries,
		GuideNumber:   e.GuideNumber,
		Lines:         lines,
		Voided:        e.Voided,
		VoidReason:    e.VoidReason,
		VoidedBy:      e.VoidedBy,
		VoidedAt:      formatStampPtr(e.VoidedAt),
		CreatedBy:     e.CreatedBy,
		CreatedAt:     formatStamp(e.CreatedAt),
	}
	if e.CorrectedEntryID != nil {
		id := string(*e.CorrectedEntryID)
		dto.CorrectedEntryID = &id
	}
	return dto
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toLines(dtos []LineDTO) []ledger.Line {
	if dtos == nil {
		return nil
	}
	lines := make([]ledger.Line, len(dtos))
	for i, l := range dtos {
		lines[i] = ledger.Line{
			CategoryID: ledger.CategoryID(l.CategoryID),
			Direction:  ledger.Direction(l.Direction),
			Heads:      l.Heads,
		}
	}
	return lines
}

func toBalanceDTOs(bs []ledger.CategoryBalance) []BalanceDTO {
	dtos := make([]BalanceDTO, len(bs))
	for i, b := range bs {
		dtos[i] = BalanceDTO{
			CategoryID: string(b.CategoryID),
			Initial:    b.Initial,
			TotalIn:    b.TotalIn,
			TotalOut:   b.TotalOut,
			Final:      b.Final,
		}
	}
	return dtos
}

func toGuideDTO(g dicose.Guide) GuideDTO {
	return GuideDTO{
		Series:                  g.Series,
		Number:                  g.Number,
		Species:                 string(g.Species),
		Status:                  string(g.Status),
		OriginRegistration:      g.OriginRegistration,
		DestinationRegistration: g.DestinationRegistration,
		RegisteredByEvent:       string(g.RegisteredByEvent),
		RegisteredAt:            formatStamp(g.RegisteredAt),
	}
}

func toViolationDTO(v dicose.ComplianceViolation) ViolationDTO {
	return ViolationDTO{
		ID:           v.ID,
		Type:         string(v.Type),
		Severity:     string(v.Severity),
		PremiseID:    v.PremiseID,
		EventID:      string(v.EventID),
		SubjectID:    v.SubjectID,
		DaysExceeded: v.DaysExceeded,
		Description:  v.Description,
		DetectedAt:   formatStamp(v.DetectedAt),
		ResolvedAt:   formatStampPtr(v.ResolvedAt),
	}
}

func toViolationDTOs(vs []dicose.ComplianceViolation) []ViolationDTO {
	dtos := make([]ViolationDTO, len(vs))
	for i, v := range vs {
		dtos[i] = toViolationDTO(v)
	}
	return dtos
}
