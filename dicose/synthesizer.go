package dicose

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// ENTRY SYNTHESIZER - Approved event -> ledger entry
// =============================================================================

// Synthesize builds the ledger entry for an approved event on sheet.
// Non-reportable types (internal moves, weighings, treatments) return nil.
//
//	single-line types: one line {category, IN|OUT, heads}
//	CATEGORY_CHANGE:   {from, OUT, heads} + {to, IN, headsTo}
func Synthesize(e Event, subject *Subject, sheet *ledger.Sheet, approvedAt time.Time) (*ledger.Entry, error) {
	if !e.Type.Reportable() {
		return nil, nil
	}
	if sheet == nil {
		return nil, &ledger.ConsistencyFault{Ref: string(e.ID), Detail: "reportable event without a target sheet"}
	}

	rule := ruleFor(e.Type)
	var lines []ledger.Line
	if rule.Transfer {
		headsTo := e.HeadsTo
		if headsTo == 0 {
			headsTo = e.Heads
		}
		if headsTo != e.Heads {
			return nil, &ledger.ConsistencyFault{
				Ref:    string(e.ID),
				Detail: fmt.Sprintf("category change out %d != in %d", e.Heads, headsTo),
			}
		}
		lines = []ledger.Line{
			{CategoryID: e.CategoryFrom, Direction: ledger.DirectionOut, Heads: e.Heads},
			{CategoryID: e.CategoryTo, Direction: ledger.DirectionIn, Heads: headsTo},
		}
	} else {
		cat := ResolveCategory(e, subject)
		if cat == "" {
			return nil, &ledger.ConsistencyFault{Ref: string(e.ID), Detail: "no category for ledger line"}
		}
		lines = []ledger.Line{{CategoryID: cat, Direction: rule.Direction, Heads: e.Heads}}
	}

	if err := ledger.ValidateLines(lines); err != nil {
		return nil, &ledger.ConsistencyFault{Ref: string(e.ID), Detail: err.Error()}
	}

	return &ledger.Entry{
		ID:            ledger.EntryID(uuid.NewString()),
		SheetID:       sheet.ID,
		SourceEventID: string(e.ID),
		EntryDate:     ledger.DayOf(e.EventDate),
		Operation:     rule.Operation,
		GuideSeries:   e.GuideSeries,
		GuideNumber:   e.GuideNumber,
		Lines:         lines,
		CreatedBy:     e.ApprovedBy,
		CreatedAt:     approvedAt,
	}, nil
}
