package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/contralor/dicose"
	"github.com/warp/contralor/ledger"
)

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = `id, firm_id, premise_id, type, scope, species, animal_id, herd_id,
	heads, heads_to, kilograms, category_id, category_from, category_to,
	guide_series, guide_number, counterpart_registration, withdrawal_days,
	event_date, notes, status, approved_by, approved_at, rejected_by, rejected_at,
	rejection_reason, mirror_event_id, entry_id, created_by, created_at`

func (c *conn) CreateEvent(ctx context.Context, e dicose.Event) error {
	var kg sql.NullString
	if e.Kilograms != nil {
		kg = sql.NullString{String: e.Kilograms.String(), Valid: true}
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.FirmID), e.PremiseID, e.Type, nullString(string(e.Scope)), nullString(string(e.Species)),
		nullString(e.AnimalID), nullString(e.HerdID),
		e.Heads, e.HeadsTo, kg,
		nullString(string(e.CategoryID)), nullString(string(e.CategoryFrom)), nullString(string(e.CategoryTo)),
		nullString(e.GuideSeries), nullString(e.GuideNumber), nullString(e.CounterpartRegistration), e.WithdrawalDays,
		formatEventDate(e.EventDate), nullString(e.Notes), e.Status,
		nullString(e.ApprovedBy), formatTimePtr(e.ApprovedAt),
		nullString(e.RejectedBy), formatTimePtr(e.RejectedAt), nullString(e.RejectionReason),
		nullString(string(e.MirrorEventID)), nullString(string(e.EntryID)),
		nullString(e.CreatedBy), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ConflictError{Op: "create_event", Ref: string(e.ID), Err: dicose.ErrEventExists}
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (c *conn) GetEvent(ctx context.Context, id dicose.EventID) (*dicose.Event, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if isNoRows(err) {
		return nil, dicose.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// TransitionEvent writes only the lifecycle columns, guarded on PENDING.
func (c *conn) TransitionEvent(ctx context.Context, e dicose.Event) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE events SET
			status = ?, approved_by = ?, approved_at = ?,
			rejected_by = ?, rejected_at = ?, rejection_reason = ?,
			mirror_event_id = ?, entry_id = ?
		WHERE id = ? AND status = 'PENDING'`,
		e.Status, nullString(e.ApprovedBy), formatTimePtr(e.ApprovedAt),
		nullString(e.RejectedBy), formatTimePtr(e.RejectedAt), nullString(e.RejectionReason),
		nullString(string(e.MirrorEventID)), nullString(string(e.EntryID)),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to transition event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := c.GetEvent(ctx, e.ID); err != nil {
			return err
		}
		return &ledger.ConflictError{Op: "transition_event", Ref: string(e.ID), Err: dicose.ErrEventNotPending}
	}
	return nil
}

func (c *conn) ListEventsByGuide(ctx context.Context, key dicose.GuideKey) ([]dicose.Event, error) {
	return c.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE guide_series = ? AND guide_number = ?
		ORDER BY created_at ASC, rowid ASC`,
		key.Series, key.Number,
	)
}

func (c *conn) ListEventsByStatus(ctx context.Context, status dicose.EventStatus) ([]dicose.Event, error) {
	return c.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = ?
		ORDER BY created_at ASC, rowid ASC`,
		status,
	)
}

func (c *conn) queryEvents(ctx context.Context, query string, args ...any) ([]dicose.Event, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []dicose.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row scanner) (dicose.Event, error) {
	var (
		e                                  dicose.Event
		firm, scope, species, animal, herd sql.NullString
		kg, category, catFrom, catTo       sql.NullString
		series, number, counterpart        sql.NullString
		eventDate, notes                   sql.NullString
		approvedBy, approvedAt             sql.NullString
		rejectedBy, rejectedAt, reason     sql.NullString
		mirror, entry, createdBy           sql.NullString
		createdAt                          string
	)
	err := row.Scan(
		&e.ID, &firm, &e.PremiseID, &e.Type, &scope, &species, &animal, &herd,
		&e.Heads, &e.HeadsTo, &kg, &category, &catFrom, &catTo,
		&series, &number, &counterpart, &e.WithdrawalDays,
		&eventDate, &notes, &e.Status, &approvedBy, &approvedAt, &rejectedBy, &rejectedAt,
		&reason, &mirror, &entry, &createdBy, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan event: %w", err)
	}

	e.FirmID = firm.String
	e.Scope = dicose.Scope(scope.String)
	e.Species = dicose.Species(species.String)
	e.AnimalID = animal.String
	e.HerdID = herd.String
	if kg.Valid && kg.String != "" {
		d, err := decimal.NewFromString(kg.String)
		if err != nil {
			return e, fmt.Errorf("invalid kilograms %q on event %s: %w", kg.String, e.ID, err)
		}
		e.Kilograms = &d
	}
	e.CategoryID = ledger.CategoryID(category.String)
	e.CategoryFrom = ledger.CategoryID(catFrom.String)
	e.CategoryTo = ledger.CategoryID(catTo.String)
	e.GuideSeries = series.String
	e.GuideNumber = number.String
	e.CounterpartRegistration = counterpart.String
	if eventDate.Valid {
		e.EventDate = parseTime(eventDate.String)
	}
	e.Notes = notes.String
	e.ApprovedBy = approvedBy.String
	e.ApprovedAt = parseTimePtr(approvedAt)
	e.RejectedBy = rejectedBy.String
	e.RejectedAt = parseTimePtr(rejectedAt)
	e.RejectionReason = reason.String
	e.MirrorEventID = dicose.EventID(mirror.String)
	e.EntryID = ledger.EntryID(entry.String)
	e.CreatedBy = createdBy.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

func formatEventDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// =============================================================================
// GUIDES
// =============================================================================

func (c *conn) GetGuide(ctx context.Context, key dicose.GuideKey) (*dicose.Guide, error) {
	var (
		g                  dicose.Guide
		species, origin    sql.NullString
		destination, byEvt sql.NullString
		registeredAt       string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT series, number, species, status, origin_registration, destination_registration,
		       registered_by_event, registered_at
		FROM guides WHERE series = ? AND number = ?`,
		key.Series, key.Number,
	).Scan(&g.Series, &g.Number, &species, &g.Status, &origin, &destination, &byEvt, &registeredAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guide: %w", err)
	}
	g.Species = dicose.Species(species.String)
	g.OriginRegistration = origin.String
	g.DestinationRegistration = destination.String
	g.RegisteredByEvent = dicose.EventID(byEvt.String)
	g.RegisteredAt = parseTime(registeredAt)
	return &g, nil
}

// InsertGuide is a first-writer-wins upsert: an existing key is untouched.
func (c *conn) InsertGuide(ctx context.Context, g dicose.Guide) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO guides (series, number, species, status, origin_registration,
			destination_registration, registered_by_event, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series, number) DO NOTHING`,
		g.Series, g.Number, nullString(string(g.Species)), g.Status,
		nullString(g.OriginRegistration), nullString(g.DestinationRegistration),
		nullString(string(g.RegisteredByEvent)), formatTime(g.RegisteredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert guide: %w", err)
	}
	return nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (c *conn) SavePremise(ctx context.Context, p dicose.Premise) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO premises (id, firm_id, name, registration_number)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			firm_id = excluded.firm_id,
			name = excluded.name,
			registration_number = excluded.registration_number`,
		p.ID, nullString(p.FirmID), nullString(p.Name), nullString(p.RegistrationNumber),
	)
	return err
}

func (c *conn) GetPremise(ctx context.Context, id string) (*dicose.Premise, error) {
	var (
		p                     dicose.Premise
		firm, name, regNumber sql.NullString
	)
	err := c.q.QueryRowContext(ctx,
		"SELECT id, firm_id, name, registration_number FROM premises WHERE id = ?", id,
	).Scan(&p.ID, &firm, &name, &regNumber)
	if isNoRows(err) {
		return nil, dicose.ErrPremiseNotFound
	}
	if err != nil {
		return nil, err
	}
	p.FirmID = firm.String
	p.Name = name.String
	p.RegistrationNumber = regNumber.String
	return &p, nil
}

func (c *conn) SaveSubject(ctx context.Context, s dicose.Subject) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO subjects (scope, id, premise_id, species, category_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, id) DO UPDATE SET
			premise_id = excluded.premise_id,
			species = excluded.species,
			category_id = excluded.category_id`,
		s.Scope, s.ID, nullString(s.PremiseID), nullString(string(s.Species)), nullString(string(s.CategoryID)),
	)
	return err
}

func (c *conn) GetSubject(ctx context.Context, scope dicose.Scope, id string) (*dicose.Subject, error) {
	var (
		s                          dicose.Subject
		premise, species, category sql.NullString
	)
	err := c.q.QueryRowContext(ctx,
		"SELECT scope, id, premise_id, species, category_id FROM subjects WHERE scope = ? AND id = ?",
		scope, id,
	).Scan(&s.Scope, &s.ID, &premise, &species, &category)
	if isNoRows(err) {
		return nil, dicose.ErrSubjectNotFound
	}
	if err != nil {
		return nil, err
	}
	s.PremiseID = premise.String
	s.Species = dicose.Species(species.String)
	s.CategoryID = ledger.CategoryID(category.String)
	return &s, nil
}

// =============================================================================
// WITHDRAWAL PERIODS
// =============================================================================

func (c *conn) SaveWithdrawal(ctx context.Context, w dicose.Withdrawal) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO withdrawal_periods (subject_id, event_id, from_date, until_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id, event_id) DO UPDATE SET
			from_date = excluded.from_date,
			until_date = excluded.until_date`,
		w.SubjectID, w.EventID, formatDate(w.From), formatDate(w.Until),
	)
	if err != nil {
		return fmt.Errorf("failed to save withdrawal: %w", err)
	}
	return nil
}

func (c *conn) ListWithdrawals(ctx context.Context, subjectID string) ([]dicose.Withdrawal, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT subject_id, event_id, from_date, until_date
		FROM withdrawal_periods WHERE subject_id = ?
		ORDER BY from_date`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []dicose.Withdrawal
	for rows.Next() {
		var (
			w           dicose.Withdrawal
			from, until string
		)
		if err := rows.Scan(&w.SubjectID, &w.EventID, &from, &until); err != nil {
			return nil, err
		}
		w.From = parseDate(from)
		w.Until = parseDate(until)
		out = append(out, w)
	}
	return out, rows.Err()
}

// =============================================================================
// COMPLIANCE VIOLATIONS
// =============================================================================

// SaveViolation ignores a second violation of the same type for one event.
func (c *conn) SaveViolation(ctx context.Context, v dicose.ComplianceViolation) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO compliance_violations (id, type, severity, premise_id, event_id, subject_id,
			days_exceeded, description, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type, event_id) DO NOTHING`,
		v.ID, v.Type, v.Severity, nullString(v.PremiseID), nullString(string(v.EventID)),
		nullString(v.SubjectID), v.DaysExceeded, nullString(v.Description),
		formatTime(v.DetectedAt), formatTimePtr(v.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save violation: %w", err)
	}
	return nil
}

func (c *conn) ListViolations(ctx context.Context, openOnly bool) ([]dicose.ComplianceViolation, error) {
	query := `
		SELECT id, type, severity, premise_id, event_id, subject_id, days_exceeded,
		       description, detected_at, resolved_at
		FROM compliance_violations`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at ASC, rowid ASC`

	rows, err := c.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var out []dicose.ComplianceViolation
	for rows.Next() {
		var (
			v                             dicose.ComplianceViolation
			premise, event, subject, desc sql.NullString
			detectedAt                    string
			resolvedAt                    sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Type, &v.Severity, &premise, &event, &subject,
			&v.DaysExceeded, &desc, &detectedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.PremiseID = premise.String
		v.EventID = dicose.EventID(event.String)
		v.SubjectID = subject.String
		v.Description = desc.String
		v.DetectedAt = parseTime(detectedAt)
		v.ResolvedAt = parseTimePtr(resolvedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c *conn) ResolveViolation(ctx context.Context, id string, at time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE compliance_violations SET resolved_at = COALESCE(resolved_at, ?)
		WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve violation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dicose.ErrViolationNotFound
	}
	return nil
}
