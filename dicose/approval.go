/*
approval.go - PENDING -> APPROVED | REJECTED

PURPOSE:
  The only path from a raw event to the register. Approval is one unit of
  work under the sheet lock of the event's premise and species group:

    1. Reload the event; it must still be PENDING
    2. Gather context (premise, subject, open sheet, guide verdict,
       withdrawals) through the transaction's store. An event dated inside
       a CLOSED sheet's period aborts with ErrSheetClosed
    3. Validate; any fatal issue aborts with *ApprovalError
    4. Synthesize and append the ledger entry
    5. Link the mirror SALE/PURCHASE, if one is already approved
    6. Auto-register an unknown guide
    7. Record the withdrawal period of a treatment
    8. Flip the status and write the audit record

  Steps 2-8 run inside one WithTx. A failure at any step leaves no entry,
  no guide and no status change behind.

SEE ALSO:
  - validator.go: The rules applied in step 3
  - synthesizer.go: Step 4
  - guides.go: Steps 2, 5 and 6
*/
package dicose

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/contralor/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ApprovalService struct {
	Store      TxStore
	Locks      *ledger.SheetLocks
	Validator  *Validator
	Guides     GuideRegistry
	Categories *Categories
	Logger     *zap.Logger
	Now        func() time.Time

	tracer trace.Tracer
}

func NewApprovalService(store TxStore, locks *ledger.SheetLocks, validator *Validator, categories *Categories, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = NewValidator(DefaultDeadlines())
	}
	return &ApprovalService{
		Store:      store,
		Locks:      locks,
		Validator:  validator,
		Categories: categories,
		Logger:     logger,
		Now:        time.Now,
		tracer:     otel.Tracer("contralor/dicose"),
	}
}

// ApprovalResult is what a successful approval produced.
type ApprovalResult struct {
	Event   Event
	Entry   *ledger.Entry // nil for non-reportable types
	Notices Issues        // warnings plus guide/mirror notices
	Mirror  *Event        // approved counterpart, when linked
}

// Approve runs the approval unit of work for a PENDING event.
func (a *ApprovalService) Approve(ctx context.Context, id EventID, actorID string) (res *ApprovalResult, err error) {
	ctx, span := a.tracer.Start(ctx, "dicose.approve_event",
		trace.WithAttributes(attribute.String("event.id", string(id))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	head, err := a.Store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event.type", string(head.Type)))

	unlock := a.Locks.Lock(sheetKeyFor(*head))
	defer unlock()

	now := a.now()
	err = a.Store.WithTx(ctx, func(s Store) error {
		r, err := a.approveIn(ctx, s, id, actorID, now)
		res = r
		return err
	})
	if err != nil {
		if issues := IssuesOf(err); issues != nil {
			a.Logger.Info("event approval blocked",
				zap.String("event_id", string(id)),
				zap.Strings("issues", issueCodes(issues.Fatal())),
			)
		} else {
			a.Logger.Warn("event approval failed", zap.String("event_id", string(id)), zap.Error(err))
		}
		return nil, err
	}

	fields := []zap.Field{
		zap.String("event_id", string(id)),
		zap.String("type", string(res.Event.Type)),
		zap.String("premise_id", res.Event.PremiseID),
		zap.String("actor_id", actorID),
	}
	if res.Entry != nil {
		fields = append(fields, zap.String("entry_id", string(res.Entry.ID)))
	}
	if len(res.Notices) > 0 {
		fields = append(fields, zap.Strings("notices", issueCodes(res.Notices)))
	}
	a.Logger.Info("event approved", fields...)
	return res, nil
}

func (a *ApprovalService) approveIn(ctx context.Context, s Store, id EventID, actorID string, now time.Time) (*ApprovalResult, error) {
	e, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		return nil, &ledger.ConflictError{Op: "approve_event", Ref: string(id), Err: ErrEventNotPending}
	}

	vc, err := a.gather(ctx, s, *e, now)
	if err != nil {
		return nil, err
	}
	if vc.OpenSheet == nil && e.Type.Reportable() {
		if err := closedSheetConflict(ctx, s, *e); err != nil {
			return nil, err
		}
	}
	issues := a.Validator.Validate(*e, vc)
	if issues.HasFatal() {
		return nil, &ApprovalError{EventID: id, Issues: issues}
	}
	notices := issues.Notices()

	approved := *e
	approved.Status = StatusApproved
	approved.ApprovedBy = actorID
	approved.ApprovedAt = &now

	entry, err := Synthesize(approved, vc.Subject, vc.OpenSheet, now)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		approved.EntryID = entry.ID
		if err := s.AppendEntry(ctx, *entry); err != nil {
			return nil, fmt.Errorf("failed to append entry: %w", err)
		}
	}

	var mirror *Event
	if _, ok := mirrorTypes[approved.Type]; ok && approved.HasGuide() {
		mirror, err = a.Guides.FindMirror(ctx, s, approved.Type, approved.GuideKey())
		if err != nil {
			return nil, err
		}
		if mirror != nil {
			approved.MirrorEventID = mirror.ID
			n := warning(IssueMirrorLinked, "guide", fmt.Sprintf("linked to %s %s on premise %s", mirror.Type, mirror.ID, mirror.PremiseID))
			n.Ref = string(mirror.ID)
			notices = append(notices, n)
		} else {
			notices = append(notices, warning(IssueMirrorPending, "guide",
				fmt.Sprintf("no approved %s with guide %s yet", mirrorTypes[approved.Type], approved.GuideKey())))
		}
	}

	if vc.Guide != nil && vc.Guide.AutoRegister {
		g := NewGuideFor(approved, *vc.Premise, now)
		if err := s.InsertGuide(ctx, g); err != nil {
			return nil, fmt.Errorf("failed to register guide: %w", err)
		}
		if err := s.AppendAudit(ctx, ledger.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   actorID,
			Action:    ledger.AuditGuideRegistered,
			PremiseID: approved.PremiseID,
			Subject:   g.Key().String(),
			Payload:   map[string]string{"event_id": string(approved.ID), "species": string(g.Species)},
		}); err != nil {
			return nil, err
		}
		notices = append(notices, warning(IssueGuideAutoRegister, "guide",
			fmt.Sprintf("guide %s registered on first use", g.Key())))
	}

	if approved.Type == EventHealthTreatment && approved.WithdrawalDays > 0 && approved.SubjectID() != "" {
		from := ledger.DayOf(approved.EventDate)
		if err := s.SaveWithdrawal(ctx, Withdrawal{
			SubjectID: approved.SubjectID(),
			EventID:   approved.ID,
			From:      from,
			Until:     from.AddDate(0, 0, approved.WithdrawalDays),
		}); err != nil {
			return nil, fmt.Errorf("failed to record withdrawal: %w", err)
		}
	}

	if err := s.TransitionEvent(ctx, approved); err != nil {
		return nil, err
	}

	payload := map[string]string{"type": string(approved.Type)}
	if entry != nil {
		payload["entry_id"] = string(entry.ID)
		payload["sheet_id"] = string(entry.SheetID)
	}
	if approved.MirrorEventID != "" {
		payload["mirror_event_id"] = string(approved.MirrorEventID)
	}
	if err := s.AppendAudit(ctx, ledger.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   actorID,
		Action:    ledger.AuditEventApproved,
		PremiseID: approved.PremiseID,
		Subject:   string(approved.ID),
		Payload:   payload,
	}); err != nil {
		return nil, err
	}

	return &ApprovalResult{Event: approved, Entry: entry, Notices: notices, Mirror: mirror}, nil
}

// gather loads the read-only context the Validator needs.
func (a *ApprovalService) gather(ctx context.Context, s Store, e Event, now time.Time) (ValidationContext, error) {
	vc := ValidationContext{Now: now, Categories: a.Categories}

	premise, err := s.GetPremise(ctx, e.PremiseID)
	switch {
	case err == nil:
		vc.Premise = premise
	case IsNotFound(err):
		vc.Premise = &Premise{ID: e.PremiseID}
	default:
		return vc, err
	}

	if id := e.SubjectID(); id != "" {
		subject, err := s.GetSubject(ctx, e.Scope, id)
		if err != nil && !IsNotFound(err) {
			return vc, err
		}
		vc.Subject = subject

		vc.Withdrawals, err = s.ListWithdrawals(ctx, id)
		if err != nil {
			return vc, err
		}
	}

	if code, ok := SheetTypeFor(e.Species); ok && e.Type.Reportable() {
		vc.OpenSheet, err = s.FindOpenSheet(ctx, ledger.SheetKey{PremiseID: e.PremiseID, TypeCode: code})
		if err != nil {
			return vc, err
		}
	}

	if e.Type.RequiresGuide() && e.HasGuide() {
		check, err := a.Guides.ValidateGuide(ctx, s, GuideQuery{
			Key:                 e.GuideKey(),
			EventType:           e.Type,
			Species:             e.Species,
			PremiseID:           e.PremiseID,
			PremiseRegistration: vc.Premise.RegistrationNumber,
			ExcludeEventID:      e.ID,
		})
		if err != nil {
			return vc, err
		}
		vc.Guide = &check
	}
	return vc, nil
}

// closedSheetConflict reports ErrSheetClosed when the event falls inside the
// period of an already CLOSED sheet of its premise and species group.
func closedSheetConflict(ctx context.Context, s Store, e Event) error {
	code, ok := SheetTypeFor(e.Species)
	if !ok {
		return nil
	}
	sheets, err := s.ListSheets(ctx, ledger.SheetKey{PremiseID: e.PremiseID, TypeCode: code})
	if err != nil {
		return err
	}
	for _, sh := range sheets {
		if sh.Status == ledger.SheetClosed && sh.Period.Contains(e.EventDate) {
			return &ledger.ConflictError{Op: "approve_event", Ref: string(sh.ID), Err: ledger.ErrSheetClosed}
		}
	}
	return nil
}

// Reject moves a PENDING event to REJECTED. No rules are checked; the reason
// is recorded as given.
func (a *ApprovalService) Reject(ctx context.Context, id EventID, actorID, reason string) (*Event, error) {
	now := a.now()
	var rejected Event
	err := a.Store.WithTx(ctx, func(s Store) error {
		e, err := s.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if e.Status != StatusPending {
			return &ledger.ConflictError{Op: "reject_event", Ref: string(id), Err: ErrEventNotPending}
		}
		rejected = *e
		rejected.Status = StatusRejected
		rejected.RejectedBy = actorID
		rejected.RejectedAt = &now
		rejected.RejectionReason = reason
		if err := s.TransitionEvent(ctx, rejected); err != nil {
			return err
		}
		return s.AppendAudit(ctx, ledger.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   actorID,
			Action:    ledger.AuditEventRejected,
			PremiseID: rejected.PremiseID,
			Subject:   string(id),
			Payload:   map[string]string{"reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}

	a.Logger.Info("event rejected",
		zap.String("event_id", string(id)),
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
	)
	return &rejected, nil
}

func (a *ApprovalService) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func sheetKeyFor(e Event) ledger.SheetKey {
	code, _ := SheetTypeFor(e.Species)
	return ledger.SheetKey{PremiseID: e.PremiseID, TypeCode: code}
}

func issueCodes(is Issues) []string {
	out := make([]string, len(is))
	for i, c := range is.Codes() {
		out[i] = string(c)
	}
	return out
}
