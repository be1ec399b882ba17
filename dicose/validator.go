/*
validator.go - Event rule checks

PURPOSE:
  Gates every event before it can become APPROVED. Validate is a pure
  function of the event and a read-only context; the ApprovalService loads
  that context (premise, subject, open sheet, guide verdict, withdrawals)
  inside its transaction and hands it over.

RULES (all run; none short-circuit):
  1. Subject required for the scope
  2. Heads > 0 for quantity-bearing types
  3. Guide present and accepted by the GuideRegistry for guide-bearing types
  4. CATEGORY_CHANGE: distinct known categories, balanced heads
  5. Event date not in the future
  6. Filing deadline for DEATH / CONSUMPTION / LOST_WITH_HIDE / FAENA:
     older than LimitDays blocks, WarnFromDays..LimitDays warns
  7. OPEN sheet for the species group (ledger-writing types)
  8. Species present and known
  9. Category resolvable for single-line types
  10. Active withdrawal period on SALE / FAENA / CONSUMPTION (warning)
*/
package dicose

import (
	"fmt"
	"time"

	"github.com/warp/contralor/ledger"
)

// ValidationContext is everything Validate may read.
type ValidationContext struct {
	Now         time.Time
	Premise     *Premise
	Subject     *Subject
	OpenSheet   *ledger.Sheet
	Guide       *GuideCheck // nil when the event carries no guide
	Categories  *Categories
	Withdrawals []Withdrawal
}

type Validator struct {
	Deadlines Deadlines
}

func NewValidator(d Deadlines) *Validator {
	return &Validator{Deadlines: d}
}

// Validate returns every issue found. It never mutates its inputs.
func (v *Validator) Validate(e Event, c ValidationContext) Issues {
	var issues Issues

	if !e.Type.Valid() {
		return Issues{fatal(IssueUnknownEventType, "type", fmt.Sprintf("unknown event type %q", e.Type))}
	}
	rule := ruleFor(e.Type)

	// 1. Subject
	switch e.Scope {
	case ScopeAnimal:
		if e.AnimalID == "" {
			issues = append(issues, fatal(IssueSubjectRequired, "animal_id", "animal events need an animal id"))
		}
	case ScopeHerd:
		if e.HerdID == "" {
			issues = append(issues, fatal(IssueSubjectRequired, "herd_id", "herd events need a herd id"))
		}
	default:
		issues = append(issues, fatal(IssueSubjectRequired, "scope", fmt.Sprintf("scope must be ANIMAL or HERD, got %q", e.Scope)))
	}
	if e.SubjectID() != "" && c.Subject == nil {
		issues = append(issues, fatal(IssueSubjectRequired, "subject", fmt.Sprintf("subject %s not found", e.SubjectID())))
	}

	// 2. Quantity
	if (rule.Heads && e.Heads <= 0) || e.Heads < 0 {
		issues = append(issues, fatal(IssueQuantityRequired, "heads", fmt.Sprintf("%s requires a positive head count", e.Type)))
	}

	// 3. Guide
	if rule.Guide {
		if !e.HasGuide() {
			issues = append(issues, fatal(IssueGuideRequired, "guide", fmt.Sprintf("%s requires guide series and number", e.Type)))
		} else if c.Guide != nil && !c.Guide.Valid {
			is := fatal(c.Guide.Code, "guide", c.Guide.Reason)
			is.Kind = c.Guide.Kind
			if c.Guide.Conflicting != nil {
				is.Ref = string(c.Guide.Conflicting.ID)
			}
			issues = append(issues, is)
		}
	}

	// 4. Category change
	if rule.Transfer {
		issues = append(issues, v.checkCategoryChange(e, c)...)
	}

	// 5. Date
	switch {
	case e.EventDate.IsZero():
		issues = append(issues, fatal(IssueDateRequired, "event_date", "event date required"))
	case ledger.DayOf(e.EventDate).After(ledger.DayOf(c.Now)):
		issues = append(issues, fatal(IssueFutureDate, "event_date",
			fmt.Sprintf("event date %s is in the future", e.EventDate.Format(ledger.DateLayout))))
	}

	// 6. Filing deadline
	if rule.Deadline && !e.EventDate.IsZero() {
		if is, ok := v.checkDeadline(e, c.Now); ok {
			issues = append(issues, is)
		}
	}

	// 7. Open sheet
	if e.Type.Reportable() && (c.OpenSheet == nil || !c.OpenSheet.IsOpen()) {
		code, _ := SheetTypeFor(e.Species)
		issues = append(issues, fatal(IssueNoOpenSheet, "sheet",
			fmt.Sprintf("premise %s has no open %s sheet", e.PremiseID, code)))
	}

	// 8. Species
	switch {
	case e.Species == "":
		issues = append(issues, fatal(IssueSpeciesRequired, "species", "species required for sheet routing"))
	case !e.Species.Valid():
		issues = append(issues, fatal(IssueSpeciesRequired, "species", fmt.Sprintf("unknown species %q", e.Species)))
	}

	// 9. Category for single-line types
	if rule.Direction != "" {
		cat := ResolveCategory(e, c.Subject)
		switch {
		case cat == "":
			issues = append(issues, fatal(IssueCategoryRequired, "category_id", "no category on the event or its subject"))
		case c.Categories != nil && !c.Categories.ForSpecies(cat, e.Species):
			issues = append(issues, fatal(IssueCategoryUnknown, "category_id",
				fmt.Sprintf("category %s is not a %s category", cat, e.Species)))
		}
	}

	// 10. Withdrawal period
	if e.Type == EventSale || e.Type == EventFaena || e.Type == EventConsumption {
		for _, w := range c.Withdrawals {
			if w.Covers(e.EventDate) {
				is := warning(IssueWithdrawalActive, "event_date",
					fmt.Sprintf("subject under withdrawal until %s", w.Until.Format(ledger.DateLayout)))
				is.Ref = string(w.EventID)
				issues = append(issues, is)
				break
			}
		}
	}

	return issues
}

func (v *Validator) checkCategoryChange(e Event, c ValidationContext) Issues {
	var issues Issues
	switch {
	case e.CategoryFrom == "" || e.CategoryTo == "":
		issues = append(issues, fatal(IssueCategoryChangeInvalid, "category_from",
			"category change needs both source and destination categories"))
	case e.CategoryFrom == e.CategoryTo:
		issues = append(issues, fatal(IssueCategoryChangeInvalid, "category_to",
			fmt.Sprintf("source and destination are both %s", e.CategoryFrom)))
	case c.Categories != nil:
		for _, id := range []ledger.CategoryID{e.CategoryFrom, e.CategoryTo} {
			if !c.Categories.ForSpecies(id, e.Species) {
				issues = append(issues, fatal(IssueCategoryUnknown, "category",
					fmt.Sprintf("category %s is not a %s category", id, e.Species)))
			}
		}
	}
	if e.HeadsTo != 0 && e.HeadsTo != e.Heads {
		issues = append(issues, fatal(IssueCategoryChangeUnbalanced, "heads_to",
			fmt.Sprintf("%d heads leave %s but %d enter %s", e.Heads, e.CategoryFrom, e.HeadsTo, e.CategoryTo)))
	}
	return issues
}

func (v *Validator) checkDeadline(e Event, now time.Time) (Issue, bool) {
	d := v.Deadlines
	if d.LimitDays <= 0 {
		d = DefaultDeadlines()
	}
	days := ledger.DaysBetween(e.EventDate, now)
	switch {
	case days > d.LimitDays:
		is := fatal(IssueDeadlineExceeded, "event_date",
			fmt.Sprintf("%s filed %d days after the event; limit is %d", e.Type, days, d.LimitDays))
		is.Days = days
		return is, true
	case days >= d.WarnFromDays:
		is := warning(IssueDeadlineApproaching, "event_date",
			fmt.Sprintf("%s is %d days old; filing limit is %d", e.Type, days, d.LimitDays))
		is.Days = days
		return is, true
	}
	return Issue{}, false
}

// ResolveCategory picks the event's explicit category, else the subject's.
func ResolveCategory(e Event, subject *Subject) ledger.CategoryID {
	if e.CategoryID != "" {
		return e.CategoryID
	}
	if subject != nil {
		return subject.CategoryID
	}
	return ""
}
