package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// -- User state --

func (s *SQLiteStore) GetUserState(ctx context.Context, userID string) (*UserState, error) {
	const q = `
SELECT user_id, state, flow_date
FROM user_states
WHERE user_id = ?
LIMIT 1;
`
	var us UserState
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&us.UserID, &us.State, &us.FlowDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user state: %w", err)
	}
	return &us, nil
}

func (s *SQLiteStore) SetUserState(ctx context.Context, state UserState) error {
	const q = `
INSERT INTO user_states (user_id, state, flow_date, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (user_id) DO UPDATE SET
    state = excluded.state,
    flow_date = excluded.flow_date,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := s.db.ExecContext(ctx, q, state.UserID, state.State, state.FlowDate); err != nil {
		return fmt.Errorf("set user state: %w", err)
	}
	return nil
}

// -- Scratch --

func (s *SQLiteStore) ListScratch(ctx context.Context, userID, date string) ([]ScratchEntry, error) {
	// Upserts replace the row under a fresh rowid, so rowid order is
	// last-write order. CURRENT_TIMESTAMP only ticks once per second and
	// cannot break ties between rapid writes.
	const q = `
SELECT user_id, business_date, product, quantity, status, updated_at
FROM scratch_entries
WHERE user_id = ? AND business_date = ?
ORDER BY rowid ASC;
`
	rows, err := s.db.QueryContext(ctx, q, userID, date)
	if err != nil {
		return nil, fmt.Errorf("list scratch: %w", err)
	}
	defer rows.Close()

	var entries []ScratchEntry
	for rows.Next() {
		var e ScratchEntry
		var qty sql.NullInt64
		if err := rows.Scan(&e.UserID, &e.BusinessDate, &e.Product, &qty, &e.Status, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scratch entry: %w", err)
		}
		if qty.Valid {
			v := qty.Int64
			e.Quantity = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scratch entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) UpsertScratch(ctx context.Context, entry ScratchEntry) error {
	// INSERT OR REPLACE removes the conflicting row and re-inserts it with
	// a new rowid; ListScratch depends on that for last-write ordering.
	const q = `
INSERT OR REPLACE INTO scratch_entries (id, user_id, business_date, product, quantity, status, updated_at)
VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
`
	var qty any
	if entry.Quantity != nil {
		qty = *entry.Quantity
	}
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), entry.UserID, entry.BusinessDate, entry.Product, qty, entry.Status); err != nil {
		return fmt.Errorf("upsert scratch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearScratch(ctx context.Context, userID string) error {
	const q = `DELETE FROM scratch_entries WHERE user_id = ?;`
	if _, err := s.db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("clear scratch: %w", err)
	}
	return nil
}

// -- Ledger --

const sqliteLedgerSelect = `
SELECT l.order_date, l.product, l.remaining_quantity, l.recorded_by,
       l.order_quantity_override, c.target_stock, c.delivery_lead_days
FROM order_ledger l
JOIN order_conditions c ON c.product = l.product
`

func (s *SQLiteStore) queryLedger(ctx context.Context, q string, args ...any) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var override sql.NullInt64
		var target, lead int64
		if err := rows.Scan(&e.Date, &e.Product, &e.RemainingQuantity, &e.RecordedBy, &override, &target, &lead); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		var overridePtr *int64
		if override.Valid {
			overridePtr = &override.Int64
		}
		if err := deriveLedger(&e, target, lead, overridePtr); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) LedgerForDate(ctx context.Context, userID, date string) ([]LedgerEntry, error) {
	const q = sqliteLedgerSelect + `
WHERE l.order_date = ? AND l.recorded_by = ?
ORDER BY l.rowid ASC;
`
	return s.queryLedger(ctx, q, date, userID)
}

func (s *SQLiteStore) CommitLedger(ctx context.Context, entries []LedgerEntry) ([]LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
INSERT INTO order_ledger (id, order_date, product, remaining_quantity, recorded_by, updated_at)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (order_date, product, recorded_by) DO UPDATE SET
    remaining_quantity = excluded.remaining_quantity,
    order_quantity_override = NULL,
    updated_at = CURRENT_TIMESTAMP;
`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, q, uuid.NewString(), e.Date, e.Product, e.RemainingQuantity, e.RecordedBy); err != nil {
			return nil, fmt.Errorf("commit ledger row %s: %w", e.Product, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	return s.LedgerForDate(ctx, entries[0].RecordedBy, entries[0].Date)
}

func (s *SQLiteStore) UpdateRemaining(ctx context.Context, userID, date, product string, quantity int64) error {
	const q = `
UPDATE order_ledger
SET remaining_quantity = ?, order_quantity_override = NULL, updated_at = CURRENT_TIMESTAMP
WHERE order_date = ? AND product = ? AND recorded_by = ?;
`
	ct, err := s.db.ExecContext(ctx, q, quantity, date, product, userID)
	if err != nil {
		return fmt.Errorf("update remaining: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateOrdered(ctx context.Context, userID, date, product string, quantity int64) error {
	const q = `
UPDATE order_ledger
SET order_quantity_override = ?, updated_at = CURRENT_TIMESTAMP
WHERE order_date = ? AND product = ? AND recorded_by = ?;
`
	ct, err := s.db.ExecContext(ctx, q, quantity, date, product, userID)
	if err != nil {
		return fmt.Errorf("update ordered: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ArchiveDay(ctx context.Context, userID, date string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	const copyQ = `
INSERT INTO order_ledger_backup (id, order_date, product, remaining_quantity, recorded_by, order_quantity_override, archived_at)
SELECT id, order_date, product, remaining_quantity, recorded_by, order_quantity_override, CURRENT_TIMESTAMP
FROM order_ledger
WHERE order_date = ? AND recorded_by = ?;
`
	if _, err := tx.ExecContext(ctx, copyQ, date, userID); err != nil {
		return fmt.Errorf("archive ledger rows: %w", err)
	}

	const delQ = `DELETE FROM order_ledger WHERE order_date = ? AND recorded_by = ?;`
	if _, err := tx.ExecContext(ctx, delQ, date, userID); err != nil {
		return fmt.Errorf("delete archived rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive tx: %w", err)
	}
	return nil
}

// -- Audit --

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	const q = `
INSERT INTO audit_log (id, user_id, logged_at, state, text)
VALUES (?, ?, ?, ?, ?);
`
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), rec.UserID, rec.Timestamp, rec.State, rec.Text); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
