/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  The dicose package wraps these with event-level context.

ERROR CLASSES:
  1. ErrValidation  - Input breaks a rule; the transition is blocked
  2. ErrConflict    - State forbids the operation (closed sheet, double void)
  3. ErrConsistency - An invariant that atomicity should guarantee is broken.
                      Never expected; aborts the enclosing transaction.

USAGE:
  Callers classify with errors.Is against the class sentinels, and read
  detail with errors.As:

    var conflict *ledger.ConflictError
    if errors.As(err, &conflict) { ... }
    if errors.Is(err, ledger.ErrSheetClosed) { ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// CLASS SENTINELS
// =============================================================================

var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrConsistency = errors.New("consistency fault")
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrSheetNotFound = errors.New("sheet not found")
	ErrEntryNotFound = errors.New("entry not found")

	// ErrSheetClosed is returned when writing to, voiding in, or closing a
	// sheet that is already CLOSED. Closing is one-way.
	ErrSheetClosed = errors.New("sheet closed")

	// ErrSheetAlreadyOpen enforces one OPEN sheet per premise and type.
	ErrSheetAlreadyOpen = errors.New("an open sheet already exists for premise and type")

	ErrEntryAlreadyVoided = errors.New("entry already voided")

	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidLines  = errors.New("invalid entry lines")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected input.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// ConflictError reports an operation refused because of current state.
type ConflictError struct {
	Op  string // e.g. "close_sheet", "void_entry"
	Ref string // id of the conflicting record
	Err error  // specific sentinel
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *ConflictError) Unwrap() []error { return []error{ErrConflict, e.Err} }

// ConsistencyFault means an invariant that transactions should guarantee does
// not hold. Returned from inside WithTx so the whole unit rolls back.
type ConsistencyFault struct {
	Detail string
	Ref    string
}

func (e *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault (%s): %s", e.Ref, e.Detail)
}

func (e *ConsistencyFault) Unwrap() error { return ErrConsistency }

func conflict(op, ref string, err error) error {
	return &ConflictError{Op: op, Ref: ref, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsValidation(err error) bool  { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsConsistency(err error) bool { return errors.Is(err, ErrConsistency) }

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSheetNotFound) || errors.Is(err, ErrEntryNotFound)
}

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return IsValidation(err) || IsConflict(err)
}
