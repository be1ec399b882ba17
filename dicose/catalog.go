package dicose

import (
	"time"

	"github.com/warp/contralor/ledger"
)

// =============================================================================
// EVENT TYPE RULES
// =============================================================================

// eventRule describes how one event type is checked and booked.
type eventRule struct {
	Heads     bool             // heads > 0 required
	Guide     bool             // guide series+number required
	Deadline  bool             // subject to the filing deadline
	Inbound   bool             // guide destination must be this premise
	Direction ledger.Direction // single-line direction; "" = no lines or transfer
	Transfer  bool             // CATEGORY_CHANGE: OUT from, IN to
	Operation string           // register label
}

var eventRules = map[EventType]eventRule{
	EventMoveInternal:    {Operation: "MOVIMIENTO INTERNO"},
	EventWeighing:        {Operation: "PESADA"},
	EventHealthTreatment: {Operation: "TRATAMIENTO SANITARIO"},

	EventBirth: {Heads: true, Direction: ledger.DirectionIn, Operation: "NACIMIENTO"},

	EventDeath:        {Heads: true, Deadline: true, Direction: ledger.DirectionOut, Operation: "MUERTE"},
	EventConsumption:  {Heads: true, Deadline: true, Direction: ledger.DirectionOut, Operation: "CONSUMO"},
	EventLostWithHide: {Heads: true, Deadline: true, Direction: ledger.DirectionOut, Operation: "PERDIDA CON CUERO"},
	EventFaena:        {Heads: true, Deadline: true, Direction: ledger.DirectionOut, Operation: "FAENA"},

	EventPurchase:       {Heads: true, Guide: true, Inbound: true, Direction: ledger.DirectionIn, Operation: "COMPRA"},
	EventMoveExternalIn: {Heads: true, Guide: true, Inbound: true, Direction: ledger.DirectionIn, Operation: "INGRESO POR GUIA"},
	EventConsignacionIn: {Heads: true, Guide: true, Inbound: true, Direction: ledger.DirectionIn, Operation: "INGRESO CONSIGNACION"},
	EventRemateIn:       {Heads: true, Guide: true, Inbound: true, Direction: ledger.DirectionIn, Operation: "COMPRA EN REMATE"},

	EventSale:            {Heads: true, Guide: true, Direction: ledger.DirectionOut, Operation: "VENTA"},
	EventMoveExternalOut: {Heads: true, Guide: true, Direction: ledger.DirectionOut, Operation: "EGRESO POR GUIA"},
	EventConsignacionOut: {Heads: true, Guide: true, Direction: ledger.DirectionOut, Operation: "EGRESO CONSIGNACION"},
	EventRemateOut:       {Heads: true, Guide: true, Direction: ledger.DirectionOut, Operation: "VENTA EN REMATE"},

	EventCategoryChange: {Heads: true, Transfer: true, Operation: "CAMBIO DE CATEGORIA"},
}

func ruleFor(t EventType) eventRule { return eventRules[t] }

func (t EventType) Valid() bool {
	_, ok := eventRules[t]
	return ok
}

// Reportable reports whether approved events of this type write ledger lines.
func (t EventType) Reportable() bool {
	r := eventRules[t]
	return r.Direction != "" || r.Transfer
}

func (t EventType) RequiresHeads() bool { return eventRules[t].Heads }
func (t EventType) RequiresGuide() bool { return eventRules[t].Guide }
func (t EventType) DeadlineBound() bool { return eventRules[t].Deadline }
func (t EventType) Inbound() bool { return eventRules[t].Inbound }
func (t EventType) OperationLabel() string { return eventRules[t].Operation }

// AllEventTypes lists the catalog in a stable order.
func AllEventTypes() []EventType {
	return []EventType{
		EventMoveInternal, EventMoveExternalIn, EventMoveExternalOut,
		EventConsignacionIn, EventConsignacionOut, EventRemateIn, EventRemateOut,
		EventWeighing, EventHealthTreatment, EventBirth, EventDeath,
		EventCategoryChange, EventPurchase, EventSale, EventConsumption,
		EventLostWithHide, EventFaena,
	}
}

// =============================================================================
// GUIDE COUNTERPARTS
// =============================================================================

// counterpartPairs lists event types that may legitimately share a guide on
// the same premise. Symmetric.
//
// TODO: review this table against the DICOSE guide regulation; it mirrors the
// pairs accepted by the intake screens and may not be exhaustive.
var counterpartPairs = [][2]EventType{
	{EventPurchase, EventMoveExternalIn},
	{EventSale, EventMoveExternalOut},
	{EventConsignacionIn, EventMoveExternalIn},
	{EventConsignacionOut, EventMoveExternalOut},
}

// Counterparts reports whether a and b may share a guide.
func Counterparts(a, b EventType) bool {
	for _, p := range counterpartPairs {
		if (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a) {
			return true
		}
	}
	return false
}

// mirrorTypes maps a sale/purchase to the type expected on the other premise.
var mirrorTypes = map[EventType]EventType{
	EventSale:     EventPurchase,
	EventPurchase: EventSale,
}

// =============================================================================
// SPECIES GROUPS
// =============================================================================

// sheetTypes maps species to the register sheet they are booked on.
var sheetTypes = map[Species]string{
	SpeciesBovine:  "BOV",
	SpeciesOvine:   "OVI",
	SpeciesEquine:  "EQU",
	SpeciesPorcine: "POR",
	SpeciesCaprine: "CAP",
}

// SheetTypeFor returns the sheet type code for a species.
func SheetTypeFor(s Species) (string, bool) {
	code, ok := sheetTypes[s]
	return code, ok
}

func (s Species) Valid() bool {
	_, ok := sheetTypes[s]
	return ok
}

// =============================================================================
// DEADLINES
// =============================================================================

// Deadlines configures the filing deadline for deadline-bound events.
type Deadlines struct {
	LimitDays    int // older than this blocks approval
	WarnFromDays int // from this age up to LimitDays, a warning
}

func DefaultDeadlines() Deadlines {
	return Deadlines{LimitDays: 30, WarnFromDays: 25}
}

// =============================================================================
// DECLARATION YEAR
// =============================================================================

// FiscalPeriod returns the DICOSE declaration year containing t: July 1
// through June 30.
func FiscalPeriod(t time.Time) ledger.Period {
	year := t.Year()
	if t.Month() < time.July {
		year--
	}
	return ledger.Period{
		Start: ledger.NewDate(year, time.July, 1),
		End:   ledger.NewDate(year+1, time.June, 30),
	}
}
