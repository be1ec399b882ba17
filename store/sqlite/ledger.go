package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/contralor/ledger"
)

// =============================================================================
// SHEETS
// =============================================================================

const sheetColumns = `id, premise_id, type_code, registration_number, period_start, period_end,
	status, opened_by, created_at, closed_by, closed_at`

func (c *conn) CreateSheet(ctx context.Context, sh ledger.Sheet) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO ledger_sheets (`+sheetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, sh.PremiseID, sh.TypeCode, nullString(sh.RegistrationNumber),
		formatDate(sh.Period.Start), formatDate(sh.Period.End),
		sh.Status, nullString(sh.OpenedBy), formatTime(sh.CreatedAt),
		nullString(sh.ClosedBy), formatTimePtr(sh.ClosedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ConflictError{Op: "create_sheet", Ref: sh.Key().String(), Err: ledger.ErrSheetAlreadyOpen}
		}
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	return nil
}

func (c *conn) GetSheet(ctx context.Context, id ledger.SheetID) (*ledger.Sheet, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+sheetColumns+` FROM ledger_sheets WHERE id = ?`, id)
	sh, err := scanSheet(row)
	if isNoRows(err) {
		return nil, ledger.ErrSheetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (c *conn) FindOpenSheet(ctx context.Context, key ledger.SheetKey) (*ledger.Sheet, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT `+sheetColumns+` FROM ledger_sheets
		WHERE premise_id = ? AND type_code = ? AND status = 'OPEN'`,
		key.PremiseID, key.TypeCode,
	)
	sh, err := scanSheet(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (c *conn) ListSheets(ctx context.Context, key ledger.SheetKey) ([]ledger.Sheet, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+sheetColumns+` FROM ledger_sheets
		WHERE premise_id = ? AND type_code = ?
		ORDER BY period_start ASC`,
		key.PremiseID, key.TypeCode,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sheets: %w", err)
	}
	defer rows.Close()

	var sheets []ledger.Sheet
	for rows.Next() {
		sh, err := scanSheet(rows)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sh)
	}
	return sheets, rows.Err()
}

func (c *conn) MarkSheetClosed(ctx context.Context, id ledger.SheetID, closedBy string, at time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE ledger_sheets SET status = 'CLOSED', closed_by = ?, closed_at = ?
		WHERE id = ?`,
		nullString(closedBy), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close sheet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrSheetNotFound
	}
	return nil
}

func scanSheet(row scanner) (ledger.Sheet, error) {
	var (
		sh                     ledger.Sheet
		registration, openedBy sql.NullString
		closedBy, closedAt     sql.NullString
		start, end, createdAt  string
	)
	err := row.Scan(
		&sh.ID, &sh.PremiseID, &sh.TypeCode, &registration, &start, &end,
		&sh.Status, &openedBy, &createdAt, &closedBy, &closedAt,
	)
	if err != nil {
		return sh, err
	}
	sh.RegistrationNumber = registration.String
	sh.Period = ledger.Period{Start: parseDate(start), End: parseDate(end)}
	sh.OpenedBy = openedBy.String
	sh.CreatedAt = parseTime(createdAt)
	sh.ClosedBy = closedBy.String
	sh.ClosedAt = parseTimePtr(closedAt)
	return sh, nil
}

// =============================================================================
// ENTRIES & LINES
// =============================================================================

const entryColumns = `id, sheet_id, source_event_id, entry_date, operation, guide_series, guide_number,
	voided, void_reason, voided_by, voided_at, corrected_entry_id, created_by, created_at`

func (c *conn) AppendEntry(ctx context.Context, e ledger.Entry) error {
	var corrected sql.NullString
	if e.CorrectedEntryID != nil {
		corrected = nullString(string(*e.CorrectedEntryID))
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SheetID, nullString(e.SourceEventID), formatDate(e.EntryDate), e.Operation,
		nullString(e.GuideSeries), nullString(e.GuideNumber),
		e.Voided, nullString(e.VoidReason), nullString(e.VoidedBy), formatTimePtr(e.VoidedAt),
		corrected, nullString(e.CreatedBy), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.ErrSheetNotFound
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}

	for i, l := range e.Lines {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO ledger_entry_lines (entry_id, line_no, category_id, direction, heads)
			VALUES (?, ?, ?, ?, ?)`,
			e.ID, i, l.CategoryID, l.Direction, l.Heads,
		)
		if err != nil {
			return fmt.Errorf("failed to append entry line %d: %w", i, err)
		}
	}
	return nil
}

func (c *conn) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if isNoRows(err) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}

	lines, err := c.loadLines(ctx, `WHERE l.entry_id = ?`, id)
	if err != nil {
		return nil, err
	}
	e.Lines = lines[e.ID]
	return &e, nil
}

func (c *conn) ListEntries(ctx context.Context, sheetID ledger.SheetID) ([]ledger.Entry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE sheet_id = ?
		ORDER BY entry_date ASC, rowid ASC`,
		sheetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// The pool holds one connection; release it before the lines query.
	rows.Close()

	lines, err := c.loadLines(ctx, `JOIN ledger_entries e ON e.id = l.entry_id WHERE e.sheet_id = ?`, sheetID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Lines = lines[entries[i].ID]
	}
	return entries, nil
}

func (c *conn) MarkEntryVoided(ctx context.Context, id ledger.EntryID, reason, voidedBy string, at time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE ledger_entries SET voided = 1, void_reason = ?, voided_by = ?, voided_at = ?
		WHERE id = ? AND voided = 0`,
		reason, nullString(voidedBy), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to void entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := c.GetEntry(ctx, id); err != nil {
			return err
		}
		return &ledger.ConflictError{Op: "void_entry", Ref: string(id), Err: ledger.ErrEntryAlreadyVoided}
	}
	return nil
}

func (c *conn) loadLines(ctx context.Context, where string, arg any) (map[ledger.EntryID][]ledger.Line, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT l.entry_id, l.category_id, l.direction, l.heads
		FROM ledger_entry_lines l `+where+`
		ORDER BY l.entry_id, l.line_no`,
		arg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry lines: %w", err)
	}
	defer rows.Close()

	out := make(map[ledger.EntryID][]ledger.Line)
	for rows.Next() {
		var (
			id ledger.EntryID
			l  ledger.Line
		)
		if err := rows.Scan(&id, &l.CategoryID, &l.Direction, &l.Heads); err != nil {
			return nil, fmt.Errorf("failed to scan entry line: %w", err)
		}
		out[id] = append(out[id], l)
	}
	return out, rows.Err()
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e                              ledger.Entry
		sourceEvent, series, number    sql.NullString
		voidReason, voidedBy, voidedAt sql.NullString
		corrected, createdBy           sql.NullString
		entryDate, createdAt           string
	)
	err := row.Scan(
		&e.ID, &e.SheetID, &sourceEvent, &entryDate, &e.Operation, &series, &number,
		&e.Voided, &voidReason, &voidedBy, &voidedAt, &corrected, &createdBy, &createdAt,
	)
	if err != nil {
		return e, err
	}
	e.SourceEventID = sourceEvent.String
	e.EntryDate = parseDate(entryDate)
	e.GuideSeries = series.String
	e.GuideNumber = number.String
	e.VoidReason = voidReason.String
	e.VoidedBy = voidedBy.String
	e.VoidedAt = parseTimePtr(voidedAt)
	if corrected.Valid {
		id := ledger.EntryID(corrected.String)
		e.CorrectedEntryID = &id
	}
	e.CreatedBy = createdBy.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (c *conn) SaveBalances(ctx context.Context, balances []ledger.CategoryBalance) error {
	for _, b := range balances {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO category_balances
			(sheet_id, category_id, initial_heads, total_in, total_out, final_heads)
			VALUES (?, ?, ?, ?, ?, ?)`,
			b.SheetID, b.CategoryID, b.Initial, b.TotalIn, b.TotalOut, b.Final,
		)
		if err != nil {
			return fmt.Errorf("failed to save balance %s/%s: %w", b.SheetID, b.CategoryID, err)
		}
	}
	return nil
}

func (c *conn) ListBalances(ctx context.Context, sheetID ledger.SheetID) ([]ledger.CategoryBalance, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT sheet_id, category_id, initial_heads, total_in, total_out, final_heads
		FROM category_balances WHERE sheet_id = ?
		ORDER BY category_id`,
		sheetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.CategoryBalance
	for rows.Next() {
		var b ledger.CategoryBalance
		if err := rows.Scan(&b.SheetID, &b.CategoryID, &b.Initial, &b.TotalIn, &b.TotalOut, &b.Final); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, a ledger.AuditEntry) error {
	payload, _ := json.Marshal(a.Payload)
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, premise_id, subject, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, formatTime(a.Timestamp), nullString(a.ActorID), a.Action,
		nullString(a.PremiseID), nullString(a.Subject), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit narrows by premise in SQL and applies the rest of the filter
// in process.
func (c *conn) QueryAudit(ctx context.Context, f ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	query := `SELECT id, ts, actor_id, action, premise_id, subject, payload_json FROM audit_log`
	var args []any
	if f.PremiseID != "" {
		query += ` WHERE premise_id = ?`
		args = append(args, f.PremiseID)
	}
	query += ` ORDER BY ts ASC, rowid ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			a                           ledger.AuditEntry
			ts                          string
			actor, premise, subject, pj sql.NullString
		)
		if err := rows.Scan(&a.ID, &ts, &actor, &a.Action, &premise, &subject, &pj); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		a.Timestamp = parseTime(ts)
		a.ActorID = actor.String
		a.PremiseID = premise.String
		a.Subject = subject.String
		if pj.Valid && pj.String != "" {
			json.Unmarshal([]byte(pj.String), &a.Payload)
		}
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}
