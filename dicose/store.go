package dicose

import (
	"context"
	"time"

	"github.com/warp/contralor/ledger"
)

// =============================================================================
// STORE - Events, guides, reference data and violations
// =============================================================================

// Store extends the ledger store with the DICOSE tables.
// Events are never deleted; the only event mutation is the status
// transition written by TransitionEvent.
type Store interface {
	ledger.Store

	CreateEvent(ctx context.Context, event Event) error
	// GetEvent returns ErrEventNotFound when missing.
	GetEvent(ctx context.Context, id EventID) (*Event, error)
	// TransitionEvent persists a PENDING -> terminal transition. It fails with
	// ErrEventNotPending if the stored event is no longer PENDING.
	TransitionEvent(ctx context.Context, event Event) error
	ListEventsByGuide(ctx context.Context, key GuideKey) ([]Event, error)
	ListEventsByStatus(ctx context.Context, status EventStatus) ([]Event, error)

	// GetGuide returns nil, nil for an unknown guide.
	GetGuide(ctx context.Context, key GuideKey) (*Guide, error)
	// InsertGuide registers a guide; an existing key is left untouched.
	InsertGuide(ctx context.Context, guide Guide) error

	SavePremise(ctx context.Context, p Premise) error
	GetPremise(ctx context.Context, id string) (*Premise, error)
	SaveSubject(ctx context.Context, s Subject) error
	GetSubject(ctx context.Context, scope Scope, id string) (*Subject, error)

	SaveWithdrawal(ctx context.Context, w Withdrawal) error
	ListWithdrawals(ctx context.Context, subjectID string) ([]Withdrawal, error)

	// SaveViolation inserts a violation; an existing (type, event) is left untouched.
	SaveViolation(ctx context.Context, v ComplianceViolation) error
	ListViolations(ctx context.Context, openOnly bool) ([]ComplianceViolation, error)
	ResolveViolation(ctx context.Context, id string, at time.Time) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// LedgerTx adapts a TxStore to ledger.TxStore so the ledger managers and the
// approval flow share one set of transactions.
func LedgerTx(s TxStore) ledger.TxStore { return ledgerTx{s} }

type ledgerTx struct{ TxStore }

func (l ledgerTx) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return l.TxStore.WithTx(ctx, func(s Store) error { return fn(s) })
}
