package repo

import (
	"context"
	"io/fs"
	"time"

	"zaiko-bot/internal/metrics"
)

// InstrumentedStore decorates a Store with per-operation request counts and
// latency observations.
type InstrumentedStore struct {
	inner   Store
	metrics *metrics.Metrics
}

// NewInstrumented wraps store with metrics instrumentation.
func NewInstrumented(store Store, metricRegistry *metrics.Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: store, metrics: metricRegistry}
}

func (s *InstrumentedStore) observe(op string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreRequests.WithLabelValues(op, status).Inc()
	s.metrics.StoreLatency.WithLabelValues(op, status).Observe(time.Since(started).Seconds())
}

func (s *InstrumentedStore) Close() {
	s.inner.Close()
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	started := time.Now()
	err := s.inner.Ping(ctx)
	s.observe("ping", started, err)
	return err
}

func (s *InstrumentedStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	started := time.Now()
	err := s.inner.RunMigrations(ctx, filesystem)
	s.observe("run_migrations", started, err)
	return err
}

func (s *InstrumentedStore) GetUserState(ctx context.Context, userID string) (*UserState, error) {
	started := time.Now()
	state, err := s.inner.GetUserState(ctx, userID)
	s.observe("get_user_state", started, err)
	return state, err
}

func (s *InstrumentedStore) SetUserState(ctx context.Context, state UserState) error {
	started := time.Now()
	err := s.inner.SetUserState(ctx, state)
	s.observe("set_user_state", started, err)
	return err
}

func (s *InstrumentedStore) ListScratch(ctx context.Context, userID, date string) ([]ScratchEntry, error) {
	started := time.Now()
	entries, err := s.inner.ListScratch(ctx, userID, date)
	s.observe("list_scratch", started, err)
	return entries, err
}

func (s *InstrumentedStore) UpsertScratch(ctx context.Context, entry ScratchEntry) error {
	started := time.Now()
	err := s.inner.UpsertScratch(ctx, entry)
	s.observe("upsert_scratch", started, err)
	return err
}

func (s *InstrumentedStore) ClearScratch(ctx context.Context, userID string) error {
	started := time.Now()
	err := s.inner.ClearScratch(ctx, userID)
	s.observe("clear_scratch", started, err)
	return err
}

func (s *InstrumentedStore) LedgerForDate(ctx context.Context, userID, date string) ([]LedgerEntry, error) {
	started := time.Now()
	entries, err := s.inner.LedgerForDate(ctx, userID, date)
	s.observe("ledger_for_date", started, err)
	return entries, err
}

func (s *InstrumentedStore) CommitLedger(ctx context.Context, entries []LedgerEntry) ([]LedgerEntry, error) {
	started := time.Now()
	committed, err := s.inner.CommitLedger(ctx, entries)
	s.observe("commit_ledger", started, err)
	return committed, err
}

func (s *InstrumentedStore) UpdateRemaining(ctx context.Context, userID, date, product string, quantity int64) error {
	started := time.Now()
	err := s.inner.UpdateRemaining(ctx, userID, date, product, quantity)
	s.observe("update_remaining", started, err)
	return err
}

func (s *InstrumentedStore) UpdateOrdered(ctx context.Context, userID, date, product string, quantity int64) error {
	started := time.Now()
	err := s.inner.UpdateOrdered(ctx, userID, date, product, quantity)
	s.observe("update_ordered", started, err)
	return err
}

func (s *InstrumentedStore) ArchiveDay(ctx context.Context, userID, date string) error {
	started := time.Now()
	err := s.inner.ArchiveDay(ctx, userID, date)
	s.observe("archive_day", started, err)
	return err
}

func (s *InstrumentedStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	started := time.Now()
	err := s.inner.AppendAudit(ctx, rec)
	s.observe("append_audit", started, err)
	return err
}
