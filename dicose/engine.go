package dicose

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/contralor/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE - Wires the services over one store
// =============================================================================

// Engine is the entry point used by the HTTP layer and the scheduler. Every
// call takes its premise and actor explicitly; nothing is read from ambient
// state.
type Engine struct {
	Store       TxStore
	Categories  *Categories
	Locks       *ledger.SheetLocks
	Guides      GuideRegistry
	Approvals   *ApprovalService
	Periods     *ledger.PeriodManager
	Corrections *ledger.CorrectionManager
	Compliance  *ComplianceDetector
	Logger      *zap.Logger

	now func() time.Time
}

type Options struct {
	Deadlines  Deadlines
	Categories *Categories
	Logger     *zap.Logger
	Now        func() time.Time
}

func NewEngine(store TxStore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cats := opts.Categories
	if cats == nil {
		cats = DefaultCategories()
	}
	deadlines := opts.Deadlines
	if deadlines.LimitDays <= 0 {
		deadlines = DefaultDeadlines()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	locks := ledger.NewSheetLocks()
	lstore := LedgerTx(store)

	e := &Engine{
		Store:       store,
		Categories:  cats,
		Locks:       locks,
		Approvals:   NewApprovalService(store, locks, NewValidator(deadlines), cats, logger.Named("approval")),
		Periods:     ledger.NewPeriodManager(lstore, locks, cats, logger.Named("periods")),
		Corrections: ledger.NewCorrectionManager(lstore, locks, cats, logger.Named("corrections")),
		Compliance:  NewComplianceDetector(store, deadlines, logger.Named("compliance")),
		Logger:      logger,
		now:         now,
	}
	e.Approvals.Now = now
	e.Periods.Now = now
	e.Corrections.Now = now
	return e
}

// =============================================================================
// INTAKE
// =============================================================================

// SubmitEventInput is a raw event from intake.
type SubmitEventInput struct {
	Event   Event
	ActorID string
}

// SubmitEvent stores a new PENDING event. Only structural checks run here;
// the rules run at approval time.
func (e *Engine) SubmitEvent(ctx context.Context, in SubmitEventInput) (*Event, error) {
	ev := in.Event
	if ev.PremiseID == "" {
		return nil, &ledger.ValidationError{Field: "premise_id", Reason: "required", Err: ErrInvalidEvent}
	}
	if !ev.Type.Valid() {
		return nil, &ledger.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", ev.Type), Err: ErrInvalidEvent}
	}
	if ev.Kilograms != nil && ev.Kilograms.IsNegative() {
		return nil, &ledger.ValidationError{Field: "kilograms", Reason: "must not be negative", Err: ErrInvalidEvent}
	}
	if ev.ID == "" {
		ev.ID = EventID(uuid.NewString())
	}
	ev.Status = StatusPending
	ev.ApprovedBy, ev.ApprovedAt = "", nil
	ev.RejectedBy, ev.RejectedAt, ev.RejectionReason = "", nil, ""
	ev.MirrorEventID, ev.EntryID = "", ""
	ev.CreatedBy = in.ActorID
	ev.CreatedAt = e.now()

	if err := e.Store.CreateEvent(ctx, ev); err != nil {
		return nil, err
	}
	e.Logger.Debug("event submitted",
		zap.String("event_id", string(ev.ID)),
		zap.String("type", string(ev.Type)),
		zap.String("premise_id", ev.PremiseID),
	)
	return &ev, nil
}

func (e *Engine) Approve(ctx context.Context, id EventID, actorID string) (*ApprovalResult, error) {
	return e.Approvals.Approve(ctx, id, actorID)
}

func (e *Engine) Reject(ctx context.Context, id EventID, actorID, reason string) (*Event, error) {
	return e.Approvals.Reject(ctx, id, actorID, reason)
}

// Mirror returns the event's counterpart: the linked one if recorded, else
// the current match by guide.
func (e *Engine) Mirror(ctx context.Context, id EventID) (*Event, error) {
	ev, err := e.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.MirrorEventID != "" {
		return e.Store.GetEvent(ctx, ev.MirrorEventID)
	}
	return e.Guides.FindMirror(ctx, e.Store, ev.Type, ev.GuideKey())
}

// =============================================================================
// SHEETS
// =============================================================================

// OpenSheet opens the sheet for a premise and species group. The registration
// number is taken from the premise record.
func (e *Engine) OpenSheet(ctx context.Context, premiseID string, species Species, period ledger.Period, actorID string) (*ledger.Sheet, error) {
	code, ok := SheetTypeFor(species)
	if !ok {
		return nil, &ledger.ValidationError{Field: "species", Reason: fmt.Sprintf("unknown species %q", species)}
	}
	premise, err := e.Store.GetPremise(ctx, premiseID)
	if err != nil {
		return nil, err
	}
	return e.Periods.OpenSheet(ctx, ledger.OpenSheetInput{
		PremiseID:          premiseID,
		TypeCode:           code,
		RegistrationNumber: premise.RegistrationNumber,
		Period:             period,
		ActorID:            actorID,
	})
}

func (e *Engine) CloseSheet(ctx context.Context, id ledger.SheetID, actorID string) (*ledger.CloseSheetOutput, error) {
	return e.Periods.CloseSheet(ctx, id, actorID)
}

// =============================================================================
// COMPLIANCE
// =============================================================================

func (e *Engine) ScanCompliance(ctx context.Context) (*ScanResult, error) {
	return e.Compliance.Scan(ctx, e.now())
}

func (e *Engine) ResolveViolation(ctx context.Context, id string) error {
	return e.Compliance.Resolve(ctx, id, e.now())
}

func (e *Engine) Now() time.Time { return e.now() }
