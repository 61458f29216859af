package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -- Scratch --

// ListScratch returns the active scratch entries for (userID, date), oldest
// update first.
func (s *PostgresStore) ListScratch(ctx context.Context, userID, date string) ([]ScratchEntry, error) {
	const q = `
SELECT user_id, business_date, product, quantity, status, updated_at
FROM scratch_entries
WHERE user_id = $1 AND business_date = $2
ORDER BY updated_at ASC;
`
	rows, err := s.pool.Query(ctx, q, userID, date)
	if err != nil {
		return nil, fmt.Errorf("list scratch: %w", err)
	}
	defer rows.Close()

	var entries []ScratchEntry
	for rows.Next() {
		var e ScratchEntry
		if err := rows.Scan(&e.UserID, &e.BusinessDate, &e.Product, &e.Quantity, &e.Status, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scratch entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scratch entries: %w", err)
	}
	return entries, nil
}

// UpsertScratch stores a scratch answer, last write wins per
// (userID, businessDate, product).
func (s *PostgresStore) UpsertScratch(ctx context.Context, entry ScratchEntry) error {
	const q = `
INSERT INTO scratch_entries (id, user_id, business_date, product, quantity, status, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (user_id, business_date, product) DO UPDATE SET
    quantity = EXCLUDED.quantity,
    status = EXCLUDED.status,
    updated_at = NOW();
`
	if _, err := s.pool.Exec(ctx, q, uuid.NewString(), entry.UserID, entry.BusinessDate, entry.Product, entry.Quantity, entry.Status); err != nil {
		return fmt.Errorf("upsert scratch: %w", err)
	}
	return nil
}

// ClearScratch removes every scratch entry for the user.
func (s *PostgresStore) ClearScratch(ctx context.Context, userID string) error {
	const q = `DELETE FROM scratch_entries WHERE user_id = $1;`
	if _, err := s.pool.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("clear scratch: %w", err)
	}
	return nil
}

// -- Ledger --

const ledgerSelect = `
SELECT l.order_date, l.product, l.remaining_quantity, l.recorded_by,
       l.order_quantity_override, c.target_stock, c.delivery_lead_days
FROM order_ledger l
JOIN order_conditions c ON c.product = l.product
`

func (s *PostgresStore) scanLedgerRows(rows pgx.Rows) ([]LedgerEntry, error) {
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var override *int64
		var target, lead int64
		if err := rows.Scan(&e.Date, &e.Product, &e.RemainingQuantity, &e.RecordedBy, &override, &target, &lead); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if err := deriveLedger(&e, target, lead, override); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, nil
}

// LedgerForDate returns the committed rows recorded by userID for date.
func (s *PostgresStore) LedgerForDate(ctx context.Context, userID, date string) ([]LedgerEntry, error) {
	const q = ledgerSelect + `
WHERE l.order_date = $1 AND l.recorded_by = $2
ORDER BY l.created_at ASC;
`
	rows, err := s.pool.Query(ctx, q, date, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger for date: %w", err)
	}
	return s.scanLedgerRows(rows)
}

// CommitLedger upserts the literal columns of each entry and returns the rows
// with the store-derived columns resolved. The upsert key (order_date, product,
// recorded_by) makes a retry after partial failure idempotent.
func (s *PostgresStore) CommitLedger(ctx context.Context, entries []LedgerEntry) ([]LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		const q = `
INSERT INTO order_ledger (id, order_date, product, remaining_quantity, recorded_by, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (order_date, product, recorded_by) DO UPDATE SET
    remaining_quantity = EXCLUDED.remaining_quantity,
    order_quantity_override = NULL,
    updated_at = NOW();
`
		for _, e := range entries {
			if _, err := tx.Exec(ctx, q, uuid.NewString(), e.Date, e.Product, e.RemainingQuantity, e.RecordedBy); err != nil {
				return fmt.Errorf("commit ledger row %s: %w", e.Product, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.LedgerForDate(ctx, entries[0].RecordedBy, entries[0].Date)
}

// UpdateRemaining overwrites the remaining quantity of one matched row.
func (s *PostgresStore) UpdateRemaining(ctx context.Context, userID, date, product string, quantity int64) error {
	const q = `
UPDATE order_ledger
SET remaining_quantity = $4, order_quantity_override = NULL, updated_at = NOW()
WHERE order_date = $1 AND product = $2 AND recorded_by = $3;
`
	ct, err := s.pool.Exec(ctx, q, date, product, userID, quantity)
	if err != nil {
		return fmt.Errorf("update remaining: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOrdered overwrites the order quantity of one matched row, pinning it
// against the derived value.
func (s *PostgresStore) UpdateOrdered(ctx context.Context, userID, date, product string, quantity int64) error {
	const q = `
UPDATE order_ledger
SET order_quantity_override = $4, updated_at = NOW()
WHERE order_date = $1 AND product = $2 AND recorded_by = $3;
`
	ct, err := s.pool.Exec(ctx, q, date, product, userID, quantity)
	if err != nil {
		return fmt.Errorf("update ordered: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveDay copies the user's rows for date into the backup table and removes
// them from the ledger.
func (s *PostgresStore) ArchiveDay(ctx context.Context, userID, date string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		const copyQ = `
INSERT INTO order_ledger_backup (id, order_date, product, remaining_quantity, recorded_by, order_quantity_override, archived_at)
SELECT gen_random_uuid()::text, order_date, product, remaining_quantity, recorded_by, order_quantity_override, NOW()
FROM order_ledger
WHERE order_date = $1 AND recorded_by = $2;
`
		if _, err := tx.Exec(ctx, copyQ, date, userID); err != nil {
			return fmt.Errorf("archive ledger rows: %w", err)
		}

		const delQ = `DELETE FROM order_ledger WHERE order_date = $1 AND recorded_by = $2;`
		if _, err := tx.Exec(ctx, delQ, date, userID); err != nil {
			return fmt.Errorf("delete archived rows: %w", err)
		}
		return nil
	})
}
