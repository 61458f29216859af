package convo

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
	"time"

	"zaiko-bot/internal/clock"
	"zaiko-bot/internal/repo"
)

var testConditions = map[string]int64{
	"キャベツ": 20,
	"プリン":  15,
	"カレー":  10,
}

type fakeStore struct {
	states  map[string]repo.UserState
	scratch []repo.ScratchEntry
	ledger  []repo.LedgerEntry
	archive []repo.LedgerEntry
	audit   []repo.AuditRecord

	// failCommitAfter makes CommitLedger fail after writing that many rows.
	// Negative means never fail.
	failCommitAfter int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[string]repo.UserState{}, failCommitAfter: -1}
}

func (s *fakeStore) Close()                                           {}
func (s *fakeStore) Ping(ctx context.Context) error                   { return nil }
func (s *fakeStore) RunMigrations(ctx context.Context, f fs.FS) error { return nil }

func (s *fakeStore) GetUserState(ctx context.Context, userID string) (*repo.UserState, error) {
	state, ok := s.states[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &state, nil
}

func (s *fakeStore) SetUserState(ctx context.Context, state repo.UserState) error {
	s.states[state.UserID] = state
	return nil
}

func (s *fakeStore) ListScratch(ctx context.Context, userID, date string) ([]repo.ScratchEntry, error) {
	var out []repo.ScratchEntry
	for _, entry := range s.scratch {
		if entry.UserID == userID && entry.BusinessDate == date {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertScratch(ctx context.Context, entry repo.ScratchEntry) error {
	kept := s.scratch[:0]
	for _, existing := range s.scratch {
		if existing.UserID == entry.UserID && existing.BusinessDate == entry.BusinessDate && existing.Product == entry.Product {
			continue
		}
		kept = append(kept, existing)
	}
	s.scratch = append(kept, entry)
	return nil
}

func (s *fakeStore) ClearScratch(ctx context.Context, userID string) error {
	kept := s.scratch[:0]
	for _, entry := range s.scratch {
		if entry.UserID != userID {
			kept = append(kept, entry)
		}
	}
	s.scratch = kept
	return nil
}

func (s *fakeStore) LedgerForDate(ctx context.Context, userID, date string) ([]repo.LedgerEntry, error) {
	var out []repo.LedgerEntry
	for _, row := range s.ledger {
		if row.RecordedBy == userID && row.Date == date {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) CommitLedger(ctx context.Context, entries []repo.LedgerEntry) ([]repo.LedgerEntry, error) {
	written := 0
	for _, entry := range entries {
		if s.failCommitAfter >= 0 && written == s.failCommitAfter {
			return nil, errors.New("store write failed")
		}
		entry.OrderQuantity = orderQuantityFor(entry.Product, entry.RemainingQuantity)
		s.upsertLedger(entry)
		written++
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return s.LedgerForDate(ctx, entries[0].RecordedBy, entries[0].Date)
}

func (s *fakeStore) upsertLedger(entry repo.LedgerEntry) {
	for i, row := range s.ledger {
		if row.Date == entry.Date && row.Product == entry.Product && row.RecordedBy == entry.RecordedBy {
			s.ledger[i] = entry
			return
		}
	}
	s.ledger = append(s.ledger, entry)
}

func (s *fakeStore) UpdateRemaining(ctx context.Context, userID, date, product string, quantity int64) error {
	for i, row := range s.ledger {
		if row.Date == date && row.Product == product && row.RecordedBy == userID {
			s.ledger[i].RemainingQuantity = quantity
			s.ledger[i].OrderQuantity = orderQuantityFor(product, quantity)
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *fakeStore) UpdateOrdered(ctx context.Context, userID, date, product string, quantity int64) error {
	for i, row := range s.ledger {
		if row.Date == date && row.Product == product && row.RecordedBy == userID {
			s.ledger[i].OrderQuantity = quantity
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *fakeStore) ArchiveDay(ctx context.Context, userID, date string) error {
	kept := s.ledger[:0]
	for _, row := range s.ledger {
		if row.RecordedBy == userID && row.Date == date {
			s.archive = append(s.archive, row)
			continue
		}
		kept = append(kept, row)
	}
	s.ledger = kept
	return nil
}

func (s *fakeStore) AppendAudit(ctx context.Context, rec repo.AuditRecord) error {
	s.audit = append(s.audit, rec)
	return nil
}

func orderQuantityFor(product string, remaining int64) int64 {
	q := testConditions[product] - remaining
	if q < 0 {
		q = 0
	}
	return q
}

type fakeReplier struct {
	replies []string
}

func (r *fakeReplier) Reply(ctx context.Context, replyToken, text string) error {
	r.replies = append(r.replies, text)
	return nil
}

func (r *fakeReplier) last() string {
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

func newTestEngine(store *fakeStore) (*Engine, *fakeReplier) {
	jst := time.FixedZone("JST", 9*60*60)
	replier := &fakeReplier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(store, replier, clock.New(11, jst), logger, nil)
	eng.now = func() time.Time {
		return time.Date(2024, 6, 10, 13, 0, 0, 0, jst)
	}
	return eng, replier
}

func send(t *testing.T, eng *Engine, userID, text string) {
	t.Helper()
	if err := eng.HandleTextMessage(context.Background(), userID, "token", text); err != nil {
		t.Fatalf("turn %q: %v", text, err)
	}
}

func stateOf(t *testing.T, store *fakeStore, userID string) State {
	t.Helper()
	persisted, ok := store.states[userID]
	if !ok {
		t.Fatalf("no persisted state for %s", userID)
	}
	return ParseState(persisted.State)
}

func TestHappyPathCommit(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	if got := stateOf(t, store, user); got != StateConfirmStart {
		t.Fatalf("after 入力: state = %v", got)
	}

	send(t, eng, user, "はい")
	if replier.last() != promptRemaining("キャベツ") {
		t.Fatalf("first prompt = %q", replier.last())
	}

	send(t, eng, user, "5")
	if replier.last() != promptRemaining("プリン") {
		t.Fatalf("second prompt = %q", replier.last())
	}

	send(t, eng, user, "3")
	if replier.last() != promptRemaining("カレー") {
		t.Fatalf("third prompt = %q", replier.last())
	}

	send(t, eng, user, "2")
	if replier.last() != msgAllCollected {
		t.Fatalf("commit confirmation = %q", replier.last())
	}

	send(t, eng, user, "はい")
	if got := stateOf(t, store, user); got != StateIdle {
		t.Fatalf("after commit: state = %v", got)
	}
	summary := replier.last()
	for _, want := range []string{msgCommitted, "キャベツ：15個", "プリン：12個", "カレー：8個"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary %q missing %q", summary, want)
		}
	}
	if len(store.ledger) != 3 {
		t.Fatalf("ledger rows = %d, want 3", len(store.ledger))
	}
	if len(store.scratch) != 0 {
		t.Fatalf("scratch not cleared: %d rows", len(store.scratch))
	}
}

func TestNonNumericInCollectingDoesNotAdvance(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "abc")

	if replier.last() != msgNumericOnly {
		t.Fatalf("reply = %q", replier.last())
	}
	if got := stateOf(t, store, user); got != StateCollecting {
		t.Fatalf("state = %v, want collecting", got)
	}
	if len(store.scratch) != 0 {
		t.Fatalf("scratch rows = %d, want 0", len(store.scratch))
	}
}

func TestNegativeQuantityRejected(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "-3")

	if replier.last() != msgNumericOnly {
		t.Fatalf("reply = %q", replier.last())
	}
	if len(store.scratch) != 0 {
		t.Fatalf("scratch rows = %d, want 0", len(store.scratch))
	}
}

func TestCancelIsGlobalAndIdempotent(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")

	send(t, eng, user, "キャンセル")
	if got := stateOf(t, store, user); got != StateIdle {
		t.Fatalf("after cancel: state = %v", got)
	}
	if replier.last() != msgCancelled {
		t.Fatalf("reply = %q", replier.last())
	}
	if len(store.scratch) != 0 {
		t.Fatalf("scratch not cleared")
	}

	send(t, eng, user, "キャンセル")
	if got := stateOf(t, store, user); got != StateIdle {
		t.Fatalf("second cancel: state = %v", got)
	}
	if replier.last() != msgCancelled {
		t.Fatalf("second cancel reply = %q", replier.last())
	}
}

func TestCommitRetryAfterPartialFailure(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")
	send(t, eng, user, "3")
	send(t, eng, user, "2")

	store.failCommitAfter = 1
	send(t, eng, user, "はい")
	if replier.last() != msgCommitError {
		t.Fatalf("failure reply = %q", replier.last())
	}
	if got := stateOf(t, store, user); got != StateConfirmCommit {
		t.Fatalf("state after failed commit = %v", got)
	}
	if len(store.ledger) != 1 {
		t.Fatalf("partial ledger rows = %d, want 1", len(store.ledger))
	}

	store.failCommitAfter = -1
	send(t, eng, user, "はい")
	if got := stateOf(t, store, user); got != StateIdle {
		t.Fatalf("state after retry = %v", got)
	}
	if len(store.ledger) != 3 {
		t.Fatalf("ledger rows after retry = %d, want 3", len(store.ledger))
	}
	seen := map[string]int{}
	for _, row := range store.ledger {
		seen[row.Product]++
	}
	for product, count := range seen {
		if count != 1 {
			t.Fatalf("product %s has %d rows", product, count)
		}
	}
}

func TestCorrectionUpdatesExistingRowOnly(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")
	send(t, eng, user, "3")
	send(t, eng, user, "2")
	send(t, eng, user, "はい")

	send(t, eng, user, "訂正")
	send(t, eng, user, "はい")
	if replier.last() != msgChooseKind {
		t.Fatalf("kind prompt = %q", replier.last())
	}
	send(t, eng, user, "残数")
	send(t, eng, user, "キャベツ")
	send(t, eng, user, "7")
	if replier.last() != confirmRemaining("キャベツ", 7) {
		t.Fatalf("confirm = %q", replier.last())
	}
	send(t, eng, user, "はい")

	if replier.last() != correctedRemaining("キャベツ") {
		t.Fatalf("reply = %q", replier.last())
	}
	if len(store.ledger) != 3 {
		t.Fatalf("correction changed row count: %d", len(store.ledger))
	}
	for _, row := range store.ledger {
		if row.Product == "キャベツ" {
			if row.RemainingQuantity != 7 {
				t.Fatalf("remaining = %d, want 7", row.RemainingQuantity)
			}
			if row.OrderQuantity != 13 {
				t.Fatalf("order quantity = %d, want 13", row.OrderQuantity)
			}
		}
	}
}

func TestOrderCorrectionOverridesOrderQuantity(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")
	send(t, eng, user, "3")
	send(t, eng, user, "2")
	send(t, eng, user, "はい")

	send(t, eng, user, "発注訂正")
	send(t, eng, user, "はい")
	send(t, eng, user, "プリン")
	if replier.last() != promptOrdered("プリン") {
		t.Fatalf("prompt = %q", replier.last())
	}
	send(t, eng, user, "9")
	send(t, eng, user, "はい")

	if replier.last() != correctedOrdered("プリン") {
		t.Fatalf("reply = %q", replier.last())
	}
	for _, row := range store.ledger {
		if row.Product == "プリン" && row.OrderQuantity != 9 {
			t.Fatalf("order quantity = %d, want 9", row.OrderQuantity)
		}
	}
}

func TestCorrectionNoRestartsTargetSelection(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")
	send(t, eng, user, "3")
	send(t, eng, user, "2")
	send(t, eng, user, "はい")

	send(t, eng, user, "訂正")
	send(t, eng, user, "はい")
	send(t, eng, user, "残数")
	send(t, eng, user, "カレー")
	send(t, eng, user, "4")
	send(t, eng, user, "いいえ")

	if replier.last() != msgRetryTarget {
		t.Fatalf("reply = %q", replier.last())
	}
	if got := stateOf(t, store, user); got != StateChooseCorrectionTarget {
		t.Fatalf("state = %v", got)
	}
}

func TestCorrectionRequiresCompletedDay(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "訂正")
	if replier.last() != msgCorrectionUnavailable {
		t.Fatalf("reply = %q", replier.last())
	}
	if got := stateOf(t, store, user); got != StateIdle {
		t.Fatalf("state = %v", got)
	}
}

func TestOverwriteArchivesExistingRows(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")
	send(t, eng, user, "3")
	send(t, eng, user, "2")
	send(t, eng, user, "はい")

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	if replier.last() != msgConfirmOverwrite {
		t.Fatalf("reply = %q", replier.last())
	}

	send(t, eng, user, "はい")
	if replier.last() != promptRemaining("キャベツ") {
		t.Fatalf("reply = %q", replier.last())
	}
	if len(store.ledger) != 0 {
		t.Fatalf("ledger rows = %d after overwrite, want 0", len(store.ledger))
	}
	if len(store.archive) != 3 {
		t.Fatalf("archive rows = %d, want 3", len(store.archive))
	}
}

func TestFlowDatePinnedAcrossCutoff(t *testing.T) {
	store := newFakeStore()
	eng, _ := newTestEngine(store)
	user := "U1"
	jst := time.FixedZone("JST", 9*60*60)

	// 10:59 is before the cutoff, so the flow belongs to the previous day.
	eng.now = func() time.Time {
		return time.Date(2024, 6, 10, 10, 59, 0, 0, jst)
	}
	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")

	if store.states[user].FlowDate != "2024/06/09" {
		t.Fatalf("pinned date = %q", store.states[user].FlowDate)
	}

	// Crossing the cutoff mid-flow must not move the date.
	eng.now = func() time.Time {
		return time.Date(2024, 6, 10, 11, 1, 0, 0, jst)
	}
	send(t, eng, user, "3")
	send(t, eng, user, "2")
	send(t, eng, user, "はい")

	for _, row := range store.ledger {
		if row.Date != "2024/06/09" {
			t.Fatalf("ledger date = %q, want 2024/06/09", row.Date)
		}
	}
	if store.states[user].FlowDate != "" {
		t.Fatalf("flow date not cleared after return to idle")
	}
}

func TestCheckSummariesCommittedDay(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "確認")
	if replier.last() != msgNoRecordToday {
		t.Fatalf("reply = %q", replier.last())
	}

	send(t, eng, user, "入力")
	send(t, eng, user, "はい")
	send(t, eng, user, "5")
	send(t, eng, user, "3")
	send(t, eng, user, "2")
	send(t, eng, user, "はい")

	send(t, eng, user, "確認")
	summary := replier.last()
	for _, want := range []string{msgCheckHeader, "キャベツ：15個", "プリン：12個", "カレー：8個"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary %q missing %q", summary, want)
		}
	}
}

func TestYesNoRepromptHoldsState(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)
	user := "U1"

	send(t, eng, user, "入力")
	send(t, eng, user, "たぶん")
	if replier.last() != msgYesNo {
		t.Fatalf("reply = %q", replier.last())
	}
	if got := stateOf(t, store, user); got != StateConfirmStart {
		t.Fatalf("state = %v", got)
	}
}

func TestUnknownIdleInputShowsMenu(t *testing.T) {
	store := newFakeStore()
	eng, replier := newTestEngine(store)

	send(t, eng, "U1", "こんにちは")
	if replier.last() != msgMenu {
		t.Fatalf("reply = %q", replier.last())
	}
}
