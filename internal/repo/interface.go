package repo

import (
	"context"
	"errors"
	"io/fs"
)

// ErrNotFound indicates the addressed row does not exist.
var ErrNotFound = errors.New("repo: not found")

// Store defines the interface for conversation persistence. The dialogue core
// depends only on this interface, never on row or column addressing.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Per-user dialogue state
	GetUserState(ctx context.Context, userID string) (*UserState, error)
	SetUserState(ctx context.Context, state UserState) error

	// Scratch: in-progress form answers, keyed (userID, businessDate, product)
	// with last-write-wins upsert semantics. ListScratch returns entries
	// ordered oldest to newest by last update.
	ListScratch(ctx context.Context, userID, date string) ([]ScratchEntry, error)
	UpsertScratch(ctx context.Context, entry ScratchEntry) error
	ClearScratch(ctx context.Context, userID string) error

	// Ledger: committed order rows. Derived columns (weekday, order quantity,
	// delivery weekday) are owned by the store; CommitLedger resolves them and
	// returns the written rows. Commit is an upsert on (date, product,
	// recordedBy) so a retry after partial failure never duplicates rows.
	LedgerForDate(ctx context.Context, userID, date string) ([]LedgerEntry, error)
	CommitLedger(ctx context.Context, entries []LedgerEntry) ([]LedgerEntry, error)
	UpdateRemaining(ctx context.Context, userID, date, product string, quantity int64) error
	UpdateOrdered(ctx context.Context, userID, date, product string, quantity int64) error
	ArchiveDay(ctx context.Context, userID, date string) error

	// Audit: best-effort turn log; callers must not fail the turn on error.
	AppendAudit(ctx context.Context, rec AuditRecord) error
}
