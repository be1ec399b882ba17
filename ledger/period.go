package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// PERIOD MANAGER - Sheet lifecycle (open, compute, close)
// =============================================================================

// PeriodManager opens and closes sheets and computes their balances.
//
// Closing is the only way a CategoryBalance is ever written, and it is
// atomic: compute -> persist balances -> flip status run in one WithTx.
type PeriodManager struct {
	Store      TxStore
	Locks      *SheetLocks
	Categories CategoryCatalog // optional; enables the unknown-category fault
	Logger     *zap.Logger
	Now        func() time.Time

	tracer trace.Tracer
}

func NewPeriodManager(store TxStore, locks *SheetLocks, categories CategoryCatalog, logger *zap.Logger) *PeriodManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodManager{
		Store:      store,
		Locks:      locks,
		Categories: categories,
		Logger:     logger,
		Now:        time.Now,
		tracer:     otel.Tracer("contralor/ledger"),
	}
}

// OpenSheetInput contains inputs for opening a sheet.
type OpenSheetInput struct {
	PremiseID          string
	TypeCode           string
	RegistrationNumber string
	Period             Period
	ActorID            string
}

// OpenSheet creates a new OPEN sheet. At most one sheet per premise and type
// may be OPEN, and periods of the same key may not overlap.
func (pm *PeriodManager) OpenSheet(ctx context.Context, in OpenSheetInput) (*Sheet, error) {
	if in.PremiseID == "" {
		return nil, &ValidationError{Field: "premise_id", Reason: "required"}
	}
	if in.TypeCode == "" {
		return nil, &ValidationError{Field: "type_code", Reason: "required"}
	}
	if !in.Period.Valid() {
		return nil, &ValidationError{Field: "period", Reason: in.Period.String(), Err: ErrInvalidPeriod}
	}

	key := SheetKey{PremiseID: in.PremiseID, TypeCode: in.TypeCode}
	unlock := pm.Locks.Lock(key)
	defer unlock()

	sheet := Sheet{
		ID:                 SheetID(uuid.NewString()),
		PremiseID:          in.PremiseID,
		TypeCode:           in.TypeCode,
		RegistrationNumber: in.RegistrationNumber,
		Period:             Period{Start: DayOf(in.Period.Start), End: DayOf(in.Period.End)},
		Status:             SheetOpen,
		OpenedBy:           in.ActorID,
		CreatedAt:          pm.now(),
	}

	err := pm.Store.WithTx(ctx, func(s Store) error {
		open, err := s.FindOpenSheet(ctx, key)
		if err != nil {
			return err
		}
		if open != nil {
			return conflict("open_sheet", string(open.ID), ErrSheetAlreadyOpen)
		}

		existing, err := s.ListSheets(ctx, key)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if overlaps(e.Period, sheet.Period) {
				return &ValidationError{
					Field:  "period",
					Reason: fmt.Sprintf("%s overlaps sheet %s %s", sheet.Period, e.ID, e.Period),
					Err:    ErrInvalidPeriod,
				}
			}
		}

		if err := s.CreateSheet(ctx, sheet); err != nil {
			return err
		}
		return s.AppendAudit(ctx, AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: sheet.CreatedAt,
			ActorID:   in.ActorID,
			Action:    AuditSheetOpened,
			PremiseID: in.PremiseID,
			Subject:   string(sheet.ID),
			Payload:   map[string]string{"type_code": in.TypeCode, "period": sheet.Period.String()},
		})
	})
	if err != nil {
		return nil, err
	}

	pm.Logger.Info("sheet opened",
		zap.String("sheet_id", string(sheet.ID)),
		zap.String("premise_id", sheet.PremiseID),
		zap.String("type_code", sheet.TypeCode),
		zap.String("period", sheet.Period.String()),
	)
	return &sheet, nil
}

// ComputeBalances returns the live balances of a sheet, open or closed.
func (pm *PeriodManager) ComputeBalances(ctx context.Context, sheetID SheetID) ([]CategoryBalance, error) {
	sheet, err := pm.Store.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	m, err := computeIn(ctx, pm.Store, sheet)
	if err != nil {
		return nil, err
	}
	return SortedBalances(m), nil
}

// Balances returns the frozen snapshot for CLOSED sheets and the live
// computation for OPEN ones.
func (pm *PeriodManager) Balances(ctx context.Context, sheetID SheetID) ([]CategoryBalance, error) {
	sheet, err := pm.Store.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	if sheet.Status == SheetClosed {
		return pm.Store.ListBalances(ctx, sheetID)
	}
	m, err := computeIn(ctx, pm.Store, sheet)
	if err != nil {
		return nil, err
	}
	return SortedBalances(m), nil
}

// CloseSheetOutput contains the result of closing a sheet.
type CloseSheetOutput struct {
	Sheet    Sheet
	Balances []CategoryBalance
}

// CloseSheet seals a sheet:
//  1. Fail with ErrSheetClosed if already CLOSED
//  2. Compute balances from non-voided entries + prior closing balances
//  3. Persist one CategoryBalance per category
//  4. Flip status to CLOSED
//
// Steps 2-4 share one transaction.
func (pm *PeriodManager) CloseSheet(ctx context.Context, sheetID SheetID, actorID string) (out *CloseSheetOutput, err error) {
	ctx, span := pm.tracer.Start(ctx, "ledger.close_sheet",
		trace.WithAttributes(attribute.String("sheet.id", string(sheetID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	head, err := pm.Store.GetSheet(ctx, sheetID)
	if err != nil {
		return nil, err
	}

	unlock := pm.Locks.Lock(head.Key())
	defer unlock()

	now := pm.now()
	err = pm.Store.WithTx(ctx, func(s Store) error {
		sheet, err := s.GetSheet(ctx, sheetID)
		if err != nil {
			return err
		}
		if sheet.Status == SheetClosed {
			return conflict("close_sheet", string(sheetID), ErrSheetClosed)
		}

		m, err := computeIn(ctx, s, sheet)
		if err != nil {
			return err
		}
		balances := SortedBalances(m)
		if err := pm.checkBalances(sheet, balances); err != nil {
			return err
		}

		if len(balances) > 0 {
			if err := s.SaveBalances(ctx, balances); err != nil {
				return err
			}
		}
		if err := s.MarkSheetClosed(ctx, sheetID, actorID, now); err != nil {
			return err
		}

		sheet.Status = SheetClosed
		sheet.ClosedBy = actorID
		sheet.ClosedAt = &now
		out = &CloseSheetOutput{Sheet: *sheet, Balances: balances}

		return s.AppendAudit(ctx, AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: now,
			ActorID:   actorID,
			Action:    AuditSheetClosed,
			PremiseID: sheet.PremiseID,
			Subject:   string(sheetID),
			Payload: map[string]string{
				"categories":  fmt.Sprint(len(balances)),
				"total_heads": fmt.Sprint(TotalHeads(balances)),
			},
		})
	})
	if err != nil {
		pm.Logger.Warn("sheet close failed", zap.String("sheet_id", string(sheetID)), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("balances.count", len(out.Balances)))
	pm.Logger.Info("sheet closed",
		zap.String("sheet_id", string(sheetID)),
		zap.String("actor_id", actorID),
		zap.Int("categories", len(out.Balances)),
		zap.Int("total_heads", TotalHeads(out.Balances)),
	)
	return out, nil
}

func (pm *PeriodManager) checkBalances(sheet *Sheet, balances []CategoryBalance) error {
	for _, b := range balances {
		if !b.Reconciles() {
			return &ConsistencyFault{Ref: string(sheet.ID), Detail: fmt.Sprintf("category %s does not reconcile", b.CategoryID)}
		}
		if pm.Categories != nil {
			if _, ok := pm.Categories.Lookup(b.CategoryID); !ok {
				return &ConsistencyFault{Ref: string(sheet.ID), Detail: fmt.Sprintf("balance for unknown category %s", b.CategoryID)}
			}
		}
	}
	return nil
}

func (pm *PeriodManager) now() time.Time {
	if pm.Now == nil {
		return time.Now()
	}
	return pm.Now()
}

// =============================================================================
// HELPERS
// =============================================================================

// PriorSheet returns the CLOSED sheet of the same premise and type whose
// period ends latest while still before sheet's period start, or nil.
func PriorSheet(ctx context.Context, s Store, sheet *Sheet) (*Sheet, error) {
	sheets, err := s.ListSheets(ctx, sheet.Key())
	if err != nil {
		return nil, err
	}
	var prior *Sheet
	for i := range sheets {
		c := sheets[i]
		if c.ID == sheet.ID || c.Status != SheetClosed {
			continue
		}
		if !DayOf(c.Period.End).Before(DayOf(sheet.Period.Start)) {
			continue
		}
		if prior == nil || c.Period.End.After(prior.Period.End) {
			prior = &c
		}
	}
	return prior, nil
}

func computeIn(ctx context.Context, s Store, sheet *Sheet) (map[CategoryID]CategoryBalance, error) {
	entries, err := s.ListEntries(ctx, sheet.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.SheetID != sheet.ID {
			return nil, &ConsistencyFault{Ref: string(e.ID), Detail: "entry listed under a sheet it does not belong to"}
		}
	}

	var prior []CategoryBalance
	prev, err := PriorSheet(ctx, s, sheet)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		prior, err = s.ListBalances(ctx, prev.ID)
		if err != nil {
			return nil, err
		}
	}
	return ComputeBalances(sheet.ID, entries, prior), nil
}

func overlaps(a, b Period) bool {
	return !DayOf(a.End).Before(DayOf(b.Start)) && !DayOf(b.End).Before(DayOf(a.Start))
}
