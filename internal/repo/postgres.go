package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation data in Postgres.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// NewPostgres opens a new connection pool with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
		schema: schema,
	}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, s.pool, filesystem, "postgres")
}

// WithTx executes fn within a database transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// GetUserState loads the persisted dialogue position for a user.
func (s *PostgresStore) GetUserState(ctx context.Context, userID string) (*UserState, error) {
	const q = `
SELECT user_id, state, flow_date
FROM user_states
WHERE user_id = $1
LIMIT 1;
`
	var us UserState
	err := s.pool.QueryRow(ctx, q, userID).Scan(&us.UserID, &us.State, &us.FlowDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user state: %w", err)
	}
	return &us, nil
}

// SetUserState stores or updates the dialogue position for a user.
func (s *PostgresStore) SetUserState(ctx context.Context, state UserState) error {
	const q = `
INSERT INTO user_states (user_id, state, flow_date, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE SET
    state = EXCLUDED.state,
    flow_date = EXCLUDED.flow_date,
    updated_at = NOW();
`
	if _, err := s.pool.Exec(ctx, q, state.UserID, state.State, state.FlowDate); err != nil {
		return fmt.Errorf("set user state: %w", err)
	}
	return nil
}

// AppendAudit stores a turn log row.
func (s *PostgresStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	const q = `
INSERT INTO audit_log (id, user_id, logged_at, state, text)
VALUES ($1, $2, $3, $4, $5);
`
	if _, err := s.pool.Exec(ctx, q, uuid.NewString(), rec.UserID, rec.Timestamp, rec.State, rec.Text); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
