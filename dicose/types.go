/*
Package dicose implements the DICOSE "Contralor Interno" rules on top of the
generic ledger.

PURPOSE:
  Raw herd/animal events come in PENDING. This package validates them,
  approves or rejects them, and turns approved events into ledger entries on
  the premise's OPEN sheet for the event's species group. It also tracks
  movement guides, links sales to purchases across premises, and detects
  deadline and withdrawal-period violations.

DATA FLOW:
  event -> Validator -> ApprovalService -> Synthesizer -> ledger entry
                              |
                              +-> guide upsert, withdrawal sync, audit

SEE ALSO:
  - catalog.go: Per event-type rules (heads, guide, deadline, direction)
  - validator.go: Rule checks
  - approval.go: PENDING -> APPROVED | REJECTED
  - ledger package: Sheets, balances, closing, corrections
*/
package dicose

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// ENUMS
// =============================================================================

type EventType string

const (
	EventMoveInternal    EventType = "MOVE_INTERNAL"
	EventMoveExternalIn  EventType = "MOVE_EXTERNAL_IN"
	EventMoveExternalOut EventType = "MOVE_EXTERNAL_OUT"
	EventConsignacionIn  EventType = "CONSIGNACION_IN"
	EventConsignacionOut EventType = "CONSIGNACION_OUT"
	EventRemateIn        EventType = "REMATE_IN"
	EventRemateOut       EventType = "REMATE_OUT"
	EventWeighing        EventType = "WEIGHING"
	EventHealthTreatment EventType = "HEALTH_TREATMENT"
	EventBirth           EventType = "BIRTH"
	EventDeath           EventType = "DEATH"
	EventCategoryChange  EventType = "CATEGORY_CHANGE"
	EventPurchase        EventType = "PURCHASE"
	EventSale            EventType = "SALE"
	EventConsumption     EventType = "CONSUMPTION"
	EventLostWithHide    EventType = "LOST_WITH_HIDE"
	EventFaena           EventType = "FAENA"
)

type Scope string

const (
	ScopeAnimal Scope = "ANIMAL"
	ScopeHerd   Scope = "HERD"
)

type Species string

const (
	SpeciesBovine  Species = "BOVINO"
	SpeciesOvine   Species = "OVINO"
	SpeciesEquine  Species = "EQUINO"
	SpeciesPorcine Species = "PORCINO"
	SpeciesCaprine Species = "CAPRINO"
)

type EventStatus string

const (
	StatusPending  EventStatus = "PENDING"
	StatusApproved EventStatus = "APPROVED"
	StatusRejected EventStatus = "REJECTED"
)

func (s EventStatus) Terminal() bool { return s == StatusApproved || s == StatusRejected }

type EventID string

// =============================================================================
// EVENT - A proposed change to livestock state
// =============================================================================

type Event struct {
	ID        EventID
	FirmID    string
	PremiseID string
	Type      EventType
	Scope     Scope
	Species   Species

	AnimalID string
	HerdID   string

	Heads     int
	HeadsTo   int // CATEGORY_CHANGE: heads on the destination side; 0 = same as Heads
	Kilograms *decimal.Decimal

	// CategoryID overrides the subject's category for line-producing events.
	CategoryID   ledger.CategoryID
	CategoryFrom ledger.CategoryID
	CategoryTo   ledger.CategoryID

	GuideSeries string
	GuideNumber string
	// Registration number of the other premise in an external movement.
	CounterpartRegistration string

	// HEALTH_TREATMENT only: withdrawal period in days after EventDate.
	WithdrawalDays int

	EventDate time.Time
	Notes     string

	Status          EventStatus
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string
	MirrorEventID   EventID
	EntryID         ledger.EntryID

	CreatedBy string
	CreatedAt time.Time
}

// SubjectID returns the animal or herd id according to scope.
func (e Event) SubjectID() string {
	if e.Scope == ScopeHerd {
		return e.HerdID
	}
	return e.AnimalID
}

func (e Event) HasGuide() bool { return e.GuideSeries != "" && e.GuideNumber != "" }

func (e Event) GuideKey() GuideKey { return GuideKey{Series: e.GuideSeries, Number: e.GuideNumber} }

// =============================================================================
// GUIDE - Externally issued movement document
// =============================================================================

type GuideStatus string

const (
	GuideValid    GuideStatus = "VALID"
	GuideAnnulled GuideStatus = "ANNULLED"
	GuideExpired  GuideStatus = "EXPIRED"
)

type GuideKey struct {
	Series string
	Number string
}

func (k GuideKey) String() string { return k.Series + "-" + k.Number }

type Guide struct {
	Series                  string
	Number                  string
	Species                 Species
	Status                  GuideStatus
	OriginRegistration      string
	DestinationRegistration string
	RegisteredByEvent       EventID
	RegisteredAt            time.Time
}

func (g Guide) Key() GuideKey { return GuideKey{Series: g.Series, Number: g.Number} }

// =============================================================================
// REFERENCE DATA - Supplied by the CRUD layer
// =============================================================================

// Premise is a DICOSE-registered establishment.
type Premise struct {
	ID                 string
	FirmID             string
	Name               string
	RegistrationNumber string
}

// Subject is the animal or herd an event refers to, with the attributes the
// engine reads.
type Subject struct {
	ID         string
	Scope      Scope
	PremiseID  string
	Species    Species
	CategoryID ledger.CategoryID
}

// Withdrawal is a post-treatment period in which the subject must not be
// sold, slaughtered or consumed.
type Withdrawal struct {
	SubjectID string
	EventID   EventID
	From      time.Time
	Until     time.Time
}

func (w Withdrawal) Covers(t time.Time) bool {
	d := ledger.DayOf(t)
	return !d.Before(ledger.DayOf(w.From)) && !d.After(ledger.DayOf(w.Until))
}

// =============================================================================
// COMPLIANCE VIOLATION
// =============================================================================

type ViolationType string

const (
	ViolationDeadlineExceeded ViolationType = "REPORT_DEADLINE_EXCEEDED"
	ViolationWithdrawalBreach ViolationType = "WITHDRAWAL_PERIOD_BREACH"
)

type ViolationSeverity string

const (
	SeverityLow      ViolationSeverity = "LOW"
	SeverityMedium   ViolationSeverity = "MEDIUM"
	SeverityHigh     ViolationSeverity = "HIGH"
	SeverityCritical ViolationSeverity = "CRITICAL"
)

type ComplianceViolation struct {
	ID           string
	Type         ViolationType
	Severity     ViolationSeverity
	PremiseID    string
	EventID      EventID
	SubjectID    string
	DaysExceeded int
	Description  string
	DetectedAt   time.Time
	ResolvedAt   *time.Time
}

func (v ComplianceViolation) Open() bool { return v.ResolvedAt == nil }
