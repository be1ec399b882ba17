/*
correction.go - Voids and corrective entries

PURPOSE:
  History is never rewritten. A wrong entry is voided (flag + reason + actor)
  and, when a replacement is needed, a new entry is appended carrying a
  back-reference to the one it supersedes.

AMENDMENT CHAIN:
  original --corrected by--> correction #1 --corrected by--> correction #2

  Only the last link is non-voided, so balance computation counts it once.
  Chain() walks the back-references from any link to the root.

RULES:
  - An entry can be voided once (ErrEntryAlreadyVoided)
  - Entries of a CLOSED sheet are frozen (ErrSheetClosed)
  - Correction lines: explicit lines are used verbatim, otherwise the
    original's lines are cloned. A transfer entry (balanced IN/OUT, as
    produced by category changes) must be replaced by balanced lines.
  - Explicit lines must name known categories of the sheet's species, and a
    new entry date must fall inside the sheet's period.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CorrectionManager struct {
	Store      TxStore
	Locks      *SheetLocks
	Categories SheetCatalog // optional; nil skips the category checks
	Logger     *zap.Logger
	Now        func() time.Time

	tracer trace.Tracer
}

func NewCorrectionManager(store TxStore, locks *SheetLocks, categories SheetCatalog, logger *zap.Logger) *CorrectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorrectionManager{
		Store:      store,
		Locks:      locks,
		Categories: categories,
		Logger:     logger,
		Now:        time.Now,
		tracer:     otel.Tracer("contralor/ledger"),
	}
}

// CorrectionInput overrides fields of the original entry. Nil pointers and a
// nil Lines slice mean "copy from the original".
type CorrectionInput struct {
	EntryDate   *time.Time
	Operation   *string
	GuideSeries *string
	GuideNumber *string
	Lines       []Line
}

// VoidEntry marks an entry voided. The entry and its lines stay in storage
// and drop out of every later balance computation.
func (cm *CorrectionManager) VoidEntry(ctx context.Context, entryID EntryID, reason, actorID string) (*Entry, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}

	unlock, err := cm.lockFor(ctx, entryID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var voided *Entry
	err = cm.Store.WithTx(ctx, func(s Store) error {
		e, err := cm.voidIn(ctx, s, entryID, reason, actorID, AuditEntryVoided)
		voided = e
		return err
	})
	if err != nil {
		return nil, err
	}

	cm.Logger.Info("entry voided",
		zap.String("entry_id", string(entryID)),
		zap.String("actor_id", actorID),
		zap.String("reason", reason),
	)
	return voided, nil
}

// CreateCorrection voids the original and appends its replacement in one
// transaction. The void reason is the correction reason.
func (cm *CorrectionManager) CreateCorrection(ctx context.Context, originalID EntryID, in CorrectionInput, reason, actorID string) (*Entry, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}

	ctx, span := cm.tracer.Start(ctx, "ledger.create_correction",
		trace.WithAttributes(attribute.String("entry.original_id", string(originalID))))
	defer span.End()

	unlock, err := cm.lockFor(ctx, originalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var corrected *Entry
	err = cm.Store.WithTx(ctx, func(s Store) error {
		original, err := s.GetEntry(ctx, originalID)
		if err != nil {
			return err
		}
		if original.Voided {
			return conflict("create_correction", string(originalID), ErrEntryAlreadyVoided)
		}
		if _, err := chainIn(ctx, s, original); err != nil {
			return err
		}
		sheet, err := s.GetSheet(ctx, original.SheetID)
		if err != nil {
			if IsNotFound(err) {
				return &ConsistencyFault{Ref: string(originalID), Detail: "entry without parent sheet"}
			}
			return err
		}

		next, err := buildCorrection(*original, sheet.Period, in)
		if err != nil {
			return err
		}
		if in.Lines != nil {
			if err := cm.checkCategories(sheet, next.Lines); err != nil {
				return err
			}
		}
		next.ID = EntryID(uuid.NewString())
		next.CreatedBy = actorID
		next.CreatedAt = cm.now()

		if _, err := cm.voidIn(ctx, s, originalID, reason, actorID, AuditEntryCorrected); err != nil {
			return err
		}
		if err := s.AppendEntry(ctx, next); err != nil {
			return err
		}
		corrected = &next
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cm.Logger.Info("entry corrected",
		zap.String("original_id", string(originalID)),
		zap.String("entry_id", string(corrected.ID)),
		zap.String("actor_id", actorID),
	)
	return corrected, nil
}

// Chain returns the amendment chain ending at entryID, root first.
func (cm *CorrectionManager) Chain(ctx context.Context, entryID EntryID) ([]Entry, error) {
	e, err := cm.Store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	return chainIn(ctx, cm.Store, e)
}

func (cm *CorrectionManager) voidIn(ctx context.Context, s Store, entryID EntryID, reason, actorID string, action AuditAction) (*Entry, error) {
	e, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Voided {
		return nil, conflict("void_entry", string(entryID), ErrEntryAlreadyVoided)
	}
	sheet, err := s.GetSheet(ctx, e.SheetID)
	if err != nil {
		if IsNotFound(err) {
			return nil, &ConsistencyFault{Ref: string(entryID), Detail: "entry without parent sheet"}
		}
		return nil, err
	}
	if sheet.Status == SheetClosed {
		return nil, conflict("void_entry", string(sheet.ID), ErrSheetClosed)
	}

	now := cm.now()
	if err := s.MarkEntryVoided(ctx, entryID, reason, actorID, now); err != nil {
		return nil, err
	}
	e.Voided = true
	e.VoidReason = reason
	e.VoidedBy = actorID
	e.VoidedAt = &now

	err = s.AppendAudit(ctx, AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		ActorID:   actorID,
		Action:    action,
		PremiseID: sheet.PremiseID,
		Subject:   string(entryID),
		Payload:   map[string]string{"reason": reason, "sheet_id": string(sheet.ID)},
	})
	return e, err
}

func (cm *CorrectionManager) lockFor(ctx context.Context, entryID EntryID) (func(), error) {
	e, err := cm.Store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	sheet, err := cm.Store.GetSheet(ctx, e.SheetID)
	if err != nil {
		if IsNotFound(err) {
			return nil, &ConsistencyFault{Ref: string(entryID), Detail: "entry without parent sheet"}
		}
		return nil, err
	}
	return cm.Locks.Lock(sheet.Key()), nil
}

// checkCategories rejects lines naming an unknown category or one of another
// species than the sheet books.
func (cm *CorrectionManager) checkCategories(sheet *Sheet, lines []Line) error {
	if cm.Categories == nil {
		return nil
	}
	species, known := cm.Categories.SheetSpecies(sheet.TypeCode)
	for i, l := range lines {
		field := fmt.Sprintf("lines[%d].category_id", i)
		cat, ok := cm.Categories.Lookup(l.CategoryID)
		if !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("unknown category %q", l.CategoryID), Err: ErrInvalidLines}
		}
		if known && cat.Species != species {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("category %s is %s, sheet %s books %s", cat.ID, cat.Species, sheet.TypeCode, species),
				Err:    ErrInvalidLines,
			}
		}
	}
	return nil
}

func (cm *CorrectionManager) now() time.Time {
	if cm.Now == nil {
		return time.Now()
	}
	return cm.Now()
}

// =============================================================================
// HELPERS
// =============================================================================

func buildCorrection(original Entry, period Period, in CorrectionInput) (Entry, error) {
	next := Entry{
		SheetID:       original.SheetID,
		SourceEventID: original.SourceEventID,
		EntryDate:     original.EntryDate,
		Operation:     original.Operation,
		GuideSeries:   original.GuideSeries,
		GuideNumber:   original.GuideNumber,
		Lines:         cloneLines(original.Lines),
	}
	id := original.ID
	next.CorrectedEntryID = &id

	if in.EntryDate != nil {
		next.EntryDate = DayOf(*in.EntryDate)
		if !period.Contains(next.EntryDate) {
			return Entry{}, &ValidationError{
				Field:  "entry_date",
				Reason: fmt.Sprintf("%s is outside the sheet period %s", next.EntryDate.Format(DateLayout), period),
				Err:    ErrInvalidPeriod,
			}
		}
	}
	if in.Operation != nil {
		next.Operation = *in.Operation
	}
	if in.GuideSeries != nil {
		next.GuideSeries = *in.GuideSeries
	}
	if in.GuideNumber != nil {
		next.GuideNumber = *in.GuideNumber
	}
	if in.Lines != nil {
		if err := ValidateLines(in.Lines); err != nil {
			return Entry{}, err
		}
		next.Lines = cloneLines(in.Lines)
		if original.IsTransfer() && !next.IsTransfer() {
			return Entry{}, &ValidationError{
				Field:  "lines",
				Reason: "correction of a category transfer must keep balanced IN and OUT lines",
				Err:    ErrInvalidLines,
			}
		}
	}
	return next, nil
}

// ValidateLines checks directions, categories and positive head counts.
func ValidateLines(lines []Line) error {
	if len(lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "at least one line required", Err: ErrInvalidLines}
	}
	for i, l := range lines {
		if l.CategoryID == "" {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].category_id", i), Reason: "required", Err: ErrInvalidLines}
		}
		if !l.Direction.Valid() {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].direction", i), Reason: fmt.Sprintf("unknown direction %q", l.Direction), Err: ErrInvalidLines}
		}
		if l.Heads <= 0 {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].heads", i), Reason: "must be positive", Err: ErrInvalidLines}
		}
	}
	return nil
}

// chainIn walks CorrectedEntryID back-references to the root.
func chainIn(ctx context.Context, s Store, last *Entry) ([]Entry, error) {
	seen := map[EntryID]bool{last.ID: true}
	chain := []Entry{*last}
	cur := last
	for cur.CorrectedEntryID != nil {
		prevID := *cur.CorrectedEntryID
		if seen[prevID] {
			return nil, &ConsistencyFault{Ref: string(last.ID), Detail: "correction chain cycle at " + string(prevID)}
		}
		prev, err := s.GetEntry(ctx, prevID)
		if err != nil {
			if IsNotFound(err) {
				return nil, &ConsistencyFault{Ref: string(cur.ID), Detail: "correction points at missing entry " + string(prevID)}
			}
			return nil, err
		}
		seen[prevID] = true
		chain = append(chain, *prev)
		cur = prev
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
