/*
errors.go - Issues, notices and error types for event processing

PURPOSE:
  The Validator never stops at the first problem: every applicable rule runs
  and each finding becomes an Issue. Fatal issues block approval; warnings
  travel back to the caller as notices alongside a successful approval.

CLASSES:
  Each Issue carries a Kind mirroring the ledger error classes:
    KindValidation -> ledger.ErrValidation
    KindConflict   -> ledger.ErrConflict
  An *ApprovalError unwraps to the class of every fatal issue it holds, so
  errors.Is(err, ledger.ErrConflict) answers "was a guide conflict involved?"
  while errors.As(err, &approvalErr) gives the full list.
*/
package dicose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warp/contralor/ledger"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrPremiseNotFound   = errors.New("premise not found")
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrViolationNotFound = errors.New("violation not found")

	// ErrEventNotPending is returned when approving or rejecting a terminal event.
	ErrEventNotPending = errors.New("event is not pending")

	ErrInvalidEvent = errors.New("invalid event")
	ErrEventExists  = errors.New("event already exists")
)

// =============================================================================
// ISSUES
// =============================================================================

type IssueCode string

const (
	IssueSubjectRequired          IssueCode = "subject_required"
	IssueQuantityRequired         IssueCode = "quantity_required"
	IssueGuideRequired            IssueCode = "guide_required"
	IssueGuideInvalid             IssueCode = "guide_invalid"
	IssueGuideConflict            IssueCode = "guide_conflict"
	IssueCategoryChangeInvalid    IssueCode = "category_change_invalid"
	IssueCategoryChangeUnbalanced IssueCode = "category_change_unbalanced"
	IssueDateRequired             IssueCode = "date_required"
	IssueFutureDate               IssueCode = "future_date"
	IssueDeadlineExceeded         IssueCode = "deadline_exceeded"
	IssueDeadlineApproaching      IssueCode = "deadline_approaching"
	IssueNoOpenSheet              IssueCode = "no_open_sheet"
	IssueSpeciesRequired          IssueCode = "species_required"
	IssueCategoryRequired         IssueCode = "category_required"
	IssueCategoryUnknown          IssueCode = "category_unknown"
	IssueUnknownEventType         IssueCode = "unknown_event_type"
	IssueWithdrawalActive         IssueCode = "withdrawal_active"

	// Notices added by the approval flow.
	IssueGuideAutoRegister IssueCode = "guide_auto_register"
	IssueMirrorPending     IssueCode = "mirror_pending"
	IssueMirrorLinked      IssueCode = "mirror_linked"
)

type IssueSeverity string

const (
	IssueFatal   IssueSeverity = "fatal"
	IssueWarning IssueSeverity = "warning"
)

type IssueKind string

const (
	KindValidation IssueKind = "validation"
	KindConflict   IssueKind = "conflict"
)

type Issue struct {
	Code     IssueCode
	Severity IssueSeverity
	Kind     IssueKind
	Field    string
	Message  string
	Days     int    // deadline issues: days elapsed since the event date
	Ref      string // related record, e.g. conflicting event or mirror id
}

func (i Issue) Fatal() bool { return i.Severity == IssueFatal }

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

func fatal(code IssueCode, field, msg string) Issue {
	return Issue{Code: code, Severity: IssueFatal, Kind: KindValidation, Field: field, Message: msg}
}

func warning(code IssueCode, field, msg string) Issue {
	return Issue{Code: code, Severity: IssueWarning, Kind: KindValidation, Field: field, Message: msg}
}

// Issues is an ordered list of findings.
type Issues []Issue

func (is Issues) HasFatal() bool {
	for _, i := range is {
		if i.Fatal() {
			return true
		}
	}
	return false
}

func (is Issues) Fatal() Issues {
	var out Issues
	for _, i := range is {
		if i.Fatal() {
			out = append(out, i)
		}
	}
	return out
}

// Notices returns the non-fatal issues.
func (is Issues) Notices() Issues {
	var out Issues
	for _, i := range is {
		if !i.Fatal() {
			out = append(out, i)
		}
	}
	return out
}

func (is Issues) Has(code IssueCode) bool {
	_, ok := is.Find(code)
	return ok
}

func (is Issues) Find(code IssueCode) (Issue, bool) {
	for _, i := range is {
		if i.Code == code {
			return i, true
		}
	}
	return Issue{}, false
}

func (is Issues) Codes() []IssueCode {
	out := make([]IssueCode, len(is))
	for n, i := range is {
		out[n] = i.Code
	}
	return out
}

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ApprovalError carries every fatal issue that blocked an approval, plus any
// warnings found on the way.
type ApprovalError struct {
	EventID EventID
	Issues  Issues
}

func (e *ApprovalError) Error() string {
	blocking := e.Issues.Fatal()
	parts := make([]string, len(blocking))
	for i, is := range blocking {
		parts[i] = string(is.Code)
	}
	return fmt.Sprintf("approval of %s blocked: %s", e.EventID, strings.Join(parts, ", "))
}

func (e *ApprovalError) Unwrap() []error {
	var errs []error
	seenValidation, seenConflict := false, false
	for _, is := range e.Issues.Fatal() {
		switch is.Kind {
		case KindConflict:
			if !seenConflict {
				errs = append(errs, ledger.ErrConflict)
				seenConflict = true
			}
		default:
			if !seenValidation {
				errs = append(errs, ledger.ErrValidation)
				seenValidation = true
			}
		}
	}
	return errs
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrPremiseNotFound) ||
		errors.Is(err, ErrSubjectNotFound) ||
		errors.Is(err, ErrViolationNotFound) ||
		ledger.IsNotFound(err)
}

// IssuesOf extracts the issue list from an approval error, or nil.
func IssuesOf(err error) Issues {
	var ae *ApprovalError
	if errors.As(err, &ae) {
		return ae.Issues
	}
	return nil
}
