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
// COMPLIANCE DETECTOR
// =============================================================================

// ComplianceDetector finds deadline and withdrawal breaches. It is run by the
// scheduler and on demand; every scan is idempotent per (type, event).
type ComplianceDetector struct {
	Store     TxStore
	Deadlines Deadlines
	Logger    *zap.Logger
}

func NewComplianceDetector(store TxStore, deadlines Deadlines, logger *zap.Logger) *ComplianceDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComplianceDetector{Store: store, Deadlines: deadlines, Logger: logger}
}

// ScanResult summarizes one detector run.
type ScanResult struct {
	Detected []ComplianceViolation
	Resolved []string
}

// Scan records new violations as of now:
//   - REPORT_DEADLINE_EXCEEDED (HIGH) for PENDING deadline-bound events past
//     the filing limit
//   - WITHDRAWAL_PERIOD_BREACH (CRITICAL) for APPROVED sales, slaughters and
//     consumptions dated inside a withdrawal period of their subject
//
// Open deadline violations whose event is no longer PENDING are resolved.
func (d *ComplianceDetector) Scan(ctx context.Context, now time.Time) (*ScanResult, error) {
	limit := d.Deadlines.LimitDays
	if limit <= 0 {
		limit = DefaultDeadlines().LimitDays
	}

	res := &ScanResult{}
	err := d.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.ListViolations(ctx, false)
		if err != nil {
			return err
		}
		known := make(map[string]ComplianceViolation, len(existing))
		for _, v := range existing {
			known[violationKey(v.Type, v.EventID)] = v
		}

		pending, err := s.ListEventsByStatus(ctx, StatusPending)
		if err != nil {
			return err
		}
		stillPending := make(map[EventID]bool, len(pending))
		for _, e := range pending {
			stillPending[e.ID] = true
			if !e.Type.DeadlineBound() || e.EventDate.IsZero() {
				continue
			}
			age := ledger.DaysBetween(e.EventDate, now)
			if age <= limit {
				continue
			}
			if _, ok := known[violationKey(ViolationDeadlineExceeded, e.ID)]; ok {
				continue
			}
			v := ComplianceViolation{
				ID:           uuid.NewString(),
				Type:         ViolationDeadlineExceeded,
				Severity:     SeverityHigh,
				PremiseID:    e.PremiseID,
				EventID:      e.ID,
				SubjectID:    e.SubjectID(),
				DaysExceeded: age - limit,
				Description:  fmt.Sprintf("%s of %s not filed within %d days", e.Type, e.EventDate.Format(ledger.DateLayout), limit),
				DetectedAt:   now,
			}
			if err := s.SaveViolation(ctx, v); err != nil {
				return err
			}
			res.Detected = append(res.Detected, v)
		}

		for _, v := range existing {
			if v.Type != ViolationDeadlineExceeded || !v.Open() || stillPending[v.EventID] {
				continue
			}
			if err := s.ResolveViolation(ctx, v.ID, now); err != nil {
				return err
			}
			res.Resolved = append(res.Resolved, v.ID)
		}

		approved, err := s.ListEventsByStatus(ctx, StatusApproved)
		if err != nil {
			return err
		}
		for _, e := range approved {
			if e.Type != EventSale && e.Type != EventFaena && e.Type != EventConsumption {
				continue
			}
			if e.SubjectID() == "" {
				continue
			}
			if _, ok := known[violationKey(ViolationWithdrawalBreach, e.ID)]; ok {
				continue
			}
			ws, err := s.ListWithdrawals(ctx, e.SubjectID())
			if err != nil {
				return err
			}
			for _, w := range ws {
				if !w.Covers(e.EventDate) {
					continue
				}
				v := ComplianceViolation{
					ID:          uuid.NewString(),
					Type:        ViolationWithdrawalBreach,
					Severity:    SeverityCritical,
					PremiseID:   e.PremiseID,
					EventID:     e.ID,
					SubjectID:   e.SubjectID(),
					Description: fmt.Sprintf("%s during withdrawal period of treatment %s", e.Type, w.EventID),
					DetectedAt:  now,
				}
				if err := s.SaveViolation(ctx, v); err != nil {
					return err
				}
				res.Detected = append(res.Detected, v)
				break
			}
		}
		return nil
	})
	if err != nil {
		d.Logger.Error("compliance scan failed", zap.Error(err))
		return nil, err
	}

	d.Logger.Info("compliance scan complete",
		zap.Int("detected", len(res.Detected)),
		zap.Int("resolved", len(res.Resolved)),
	)
	return res, nil
}

// Resolve marks a violation resolved.
func (d *ComplianceDetector) Resolve(ctx context.Context, id string, now time.Time) error {
	if err := d.Store.ResolveViolation(ctx, id, now); err != nil {
		return err
	}
	d.Logger.Info("violation resolved", zap.String("violation_id", id))
	return nil
}

func violationKey(t ViolationType, id EventID) string {
	return string(t) + "|" + string(id)
}
