// Package convo implements the per-user dialogue state machine: a linear
// stock-entry form over the fixed product catalog, plus correction sub-flows
// that rewrite a single committed cell. All persistence goes through the
// repo.Store interface; derived order columns are owned by the store.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"zaiko-bot/internal/clock"
	"zaiko-bot/internal/metrics"
	"zaiko-bot/internal/repo"
)

// Replier sends exactly one text reply against a one-shot reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// Engine drives the dialogue. Turns for the same user are serialized through
// a per-user mutex; different users run concurrently.
type Engine struct {
	logger  *slog.Logger
	store   repo.Store
	replier Replier
	clock   *clock.Policy
	metrics *metrics.Metrics

	now   func() time.Time
	locks sync.Map // userID -> *sync.Mutex
}

// New creates a dialogue engine.
func New(store repo.Store, replier Replier, policy *clock.Policy, logger *slog.Logger, metricRegistry *metrics.Metrics) *Engine {
	return &Engine{
		logger:  logger.With("component", "convo"),
		store:   store,
		replier: replier,
		clock:   policy,
		metrics: metricRegistry,
		now:     time.Now,
	}
}

// outcome is the result of one state dispatch: the next state and the single
// reply text for this turn.
type outcome struct {
	next  State
	reply string
}

// HandleTextMessage processes one inbound text message and sends exactly one
// reply. It is safe for concurrent use; turns of the same user never overlap.
func (e *Engine) HandleTextMessage(ctx context.Context, userID, replyToken, text string) error {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	text = strings.TrimSpace(text)
	now := e.now()

	persisted, err := e.store.GetUserState(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		persisted = &repo.UserState{UserID: userID, State: StateIdle.String()}
	} else if err != nil {
		e.logger.Error("load user state", "user_id", userID, "error", err)
		e.countError("load_state")
		return e.reply(ctx, replyToken, msgInternalError)
	}
	state := ParseState(persisted.State)

	// The business date is captured once per turn. A flow that started
	// before the cutoff keeps its pinned date even if the turn itself
	// lands after the cutoff.
	date := persisted.FlowDate
	if date == "" {
		date = e.clock.BusinessDate(now)
	}

	// Best-effort audit; a failed log write never blocks the turn.
	if err := e.store.AppendAudit(ctx, repo.AuditRecord{
		UserID:    userID,
		Timestamp: e.clock.Timestamp(now),
		State:     state.String(),
		Text:      text,
	}); err != nil {
		e.logger.Warn("append audit", "user_id", userID, "error", err)
	}

	// Global cancel has precedence over every state.
	var out outcome
	if text == KeywordCancel {
		if err := e.store.ClearScratch(ctx, userID); err != nil {
			e.logger.Error("clear scratch on cancel", "user_id", userID, "error", err)
			e.countError("clear_scratch")
			return e.reply(ctx, replyToken, msgInternalError)
		}
		out = outcome{next: StateIdle, reply: msgCancelled}
	} else {
		out, err = e.dispatch(ctx, state, userID, date, text)
		if err != nil {
			// State is left unadvanced so the user can retry or cancel.
			e.logger.Error("turn failed", "user_id", userID, "state", state.String(), "error", err)
			e.countError("turn")
			return e.reply(ctx, replyToken, msgInternalError)
		}
	}

	flowDate := ""
	if out.next != StateIdle {
		flowDate = date
	}
	if err := e.store.SetUserState(ctx, repo.UserState{UserID: userID, State: out.next.String(), FlowDate: flowDate}); err != nil {
		e.logger.Error("persist user state", "user_id", userID, "error", err)
		e.countError("persist_state")
		return e.reply(ctx, replyToken, msgInternalError)
	}

	if e.metrics != nil {
		e.metrics.Turns.WithLabelValues(out.next.String()).Inc()
	}
	return e.reply(ctx, replyToken, out.reply)
}

func (e *Engine) dispatch(ctx context.Context, state State, userID, date, text string) (outcome, error) {
	switch state {
	case StateIdle:
		return e.handleIdle(ctx, userID, date, text)
	case StateConfirmStart:
		return e.handleConfirmStart(ctx, userID, date, text)
	case StateCollecting:
		return e.handleCollecting(ctx, userID, date, text)
	case StateConfirmOverwrite:
		return e.handleConfirmOverwrite(ctx, userID, date, text)
	case StateConfirmCommit:
		return e.handleConfirmCommit(ctx, userID, date, text)
	case StateConfirmCorrectionStart:
		return e.handleConfirmCorrectionStart(text)
	case StateChooseCorrectionKind:
		return e.handleChooseCorrectionKind(text)
	case StateChooseCorrectionTarget:
		return e.handleChooseTarget(ctx, userID, date, text, false)
	case StateCorrectionCollecting:
		return e.handleCorrectionCollecting(ctx, userID, date, text, false)
	case StateConfirmCorrectionCommit:
		return e.handleConfirmCorrectionCommit(ctx, userID, date, text, false)
	case StateConfirmOrderCorrectionStart:
		return e.handleConfirmOrderCorrectionStart(text)
	case StateChooseOrderCorrectionTarget:
		return e.handleChooseTarget(ctx, userID, date, text, true)
	case StateOrderCorrectionCollecting:
		return e.handleCorrectionCollecting(ctx, userID, date, text, true)
	case StateConfirmOrderCorrectionCommit:
		return e.handleConfirmCorrectionCommit(ctx, userID, date, text, true)
	}
	return outcome{next: StateIdle, reply: msgMenu}, nil
}

func (e *Engine) handleIdle(ctx context.Context, userID, date, text string) (outcome, error) {
	switch text {
	case KeywordStart:
		return outcome{next: StateConfirmStart, reply: msgConfirmStart}, nil
	case KeywordCorrect:
		complete, err := e.dayComplete(ctx, userID, date)
		if err != nil {
			return outcome{}, err
		}
		if !complete {
			return outcome{next: StateIdle, reply: msgCorrectionUnavailable}, nil
		}
		return outcome{next: StateConfirmCorrectionStart, reply: msgConfirmCorrection}, nil
	case KeywordOrderCorrect:
		complete, err := e.dayComplete(ctx, userID, date)
		if err != nil {
			return outcome{}, err
		}
		if !complete {
			return outcome{next: StateIdle, reply: msgCorrectionUnavailable}, nil
		}
		return outcome{next: StateConfirmOrderCorrectionStart, reply: msgConfirmOrderCorrection}, nil
	case KeywordCheck:
		return e.handleCheck(ctx, userID, date)
	}
	return outcome{next: StateIdle, reply: msgMenu}, nil
}

// handleCheck builds a read-only summary of the day's committed orders.
func (e *Engine) handleCheck(ctx context.Context, userID, date string) (outcome, error) {
	rows, err := e.store.LedgerForDate(ctx, userID, date)
	if err != nil {
		return outcome{}, fmt.Errorf("load ledger: %w", err)
	}
	if len(rows) == 0 {
		return outcome{next: StateIdle, reply: msgNoRecordToday}, nil
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, msgCheckHeader, "")
	for _, row := range rows {
		lines = append(lines, summaryLine(row.Product, row.OrderQuantity))
	}
	return outcome{next: StateIdle, reply: strings.Join(lines, "\n")}, nil
}

func (e *Engine) handleConfirmStart(ctx context.Context, userID, date, text string) (outcome, error) {
	switch text {
	case KeywordYes:
		rows, err := e.store.LedgerForDate(ctx, userID, date)
		if err != nil {
			return outcome{}, fmt.Errorf("load ledger: %w", err)
		}
		if len(rows) > 0 {
			return outcome{next: StateConfirmOverwrite, reply: msgConfirmOverwrite}, nil
		}
		return outcome{next: StateCollecting, reply: promptRemaining(Catalog[0])}, nil
	case KeywordNo:
		return outcome{next: StateIdle, reply: msgCancelled}, nil
	}
	return outcome{next: StateConfirmStart, reply: msgYesNo}, nil
}

func (e *Engine) handleConfirmOverwrite(ctx context.Context, userID, date, text string) (outcome, error) {
	switch text {
	case KeywordYes:
		if err := e.store.ArchiveDay(ctx, userID, date); err != nil {
			return outcome{}, fmt.Errorf("archive day: %w", err)
		}
		if err := e.store.ClearScratch(ctx, userID); err != nil {
			return outcome{}, fmt.Errorf("clear scratch: %w", err)
		}
		return outcome{next: StateCollecting, reply: promptRemaining(Catalog[0])}, nil
	case KeywordNo:
		return outcome{next: StateIdle, reply: msgCancelled}, nil
	}
	return outcome{next: StateConfirmOverwrite, reply: msgYesNo}, nil
}

func (e *Engine) handleCollecting(ctx context.Context, userID, date, text string) (outcome, error) {
	quantity, ok := parseQuantity(text)
	if !ok {
		return outcome{next: StateCollecting, reply: msgNumericOnly}, nil
	}

	entries, err := e.store.ListScratch(ctx, userID, date)
	if err != nil {
		return outcome{}, fmt.Errorf("load scratch: %w", err)
	}
	done := filledProducts(entries)
	remaining := remainingProducts(done)
	if len(remaining) == 0 {
		// All answers already present; move straight to confirmation.
		return outcome{next: StateConfirmCommit, reply: msgAllCollected}, nil
	}

	current := remaining[0]
	if err := e.store.UpsertScratch(ctx, repo.ScratchEntry{
		UserID:       userID,
		BusinessDate: date,
		Product:      current,
		Quantity:     &quantity,
		Status:       repo.ScratchFilled,
	}); err != nil {
		return outcome{}, fmt.Errorf("record answer: %w", err)
	}

	done[current] = true
	next := remainingProducts(done)
	if len(next) == 0 {
		return outcome{next: StateConfirmCommit, reply: msgAllCollected}, nil
	}
	return outcome{next: StateCollecting, reply: promptRemaining(next[0])}, nil
}

func (e *Engine) handleConfirmCommit(ctx context.Context, userID, date, text string) (outcome, error) {
	switch text {
	case KeywordYes:
		return e.commit(ctx, userID, date)
	case KeywordNo:
		if err := e.store.ClearScratch(ctx, userID); err != nil {
			return outcome{}, fmt.Errorf("clear scratch: %w", err)
		}
		return outcome{next: StateIdle, reply: msgCancelled}, nil
	}
	return outcome{next: StateConfirmCommit, reply: msgYesNo}, nil
}

// commit moves the day's scratch answers into the ledger. Ledger writes are
// upserts keyed (date, product, recordedBy), so retrying after a partial
// failure never duplicates rows.
func (e *Engine) commit(ctx context.Context, userID, date string) (outcome, error) {
	entries, err := e.store.ListScratch(ctx, userID, date)
	if err != nil {
		return outcome{}, fmt.Errorf("load scratch: %w", err)
	}

	answers := map[string]int64{}
	for _, entry := range entries {
		if entry.Quantity != nil {
			answers[entry.Product] = *entry.Quantity
		}
	}
	for _, product := range Catalog {
		if _, ok := answers[product]; !ok {
			return outcome{next: StateConfirmCommit, reply: msgIncomplete}, nil
		}
	}

	toCommit := make([]repo.LedgerEntry, 0, len(Catalog))
	for _, product := range Catalog {
		toCommit = append(toCommit, repo.LedgerEntry{
			Date:              date,
			Product:           product,
			RemainingQuantity: answers[product],
			RecordedBy:        userID,
		})
	}

	rows, err := e.store.CommitLedger(ctx, toCommit)
	if err != nil {
		// Stay in confirm-commit so the user can retry with "yes".
		e.logger.Error("commit ledger", "user_id", userID, "date", date, "error", err)
		e.countError("commit")
		return outcome{next: StateConfirmCommit, reply: msgCommitError}, nil
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, msgCommitted, "")
	for _, row := range rows {
		lines = append(lines, summaryLine(row.Product, row.OrderQuantity))
	}

	if err := e.store.ClearScratch(ctx, userID); err != nil {
		e.logger.Warn("clear scratch after commit", "user_id", userID, "error", err)
	}
	return outcome{next: StateIdle, reply: strings.Join(lines, "\n")}, nil
}

func (e *Engine) handleConfirmCorrectionStart(text string) (outcome, error) {
	switch text {
	case KeywordYes:
		return outcome{next: StateChooseCorrectionKind, reply: msgChooseKind}, nil
	case KeywordNo:
		return outcome{next: StateIdle, reply: msgCorrectionCancelled}, nil
	}
	return outcome{next: StateConfirmCorrectionStart, reply: msgYesNo}, nil
}

func (e *Engine) handleChooseCorrectionKind(text string) (outcome, error) {
	switch text {
	case KindRemaining:
		return outcome{next: StateChooseCorrectionTarget, reply: msgChooseTarget}, nil
	case KindOrdered:
		return outcome{next: StateChooseOrderCorrectionTarget, reply: msgChooseOrderTarget}, nil
	}
	return outcome{next: StateChooseCorrectionKind, reply: msgKindOnly}, nil
}

func (e *Engine) handleConfirmOrderCorrectionStart(text string) (outcome, error) {
	switch text {
	case KeywordYes:
		return outcome{next: StateChooseOrderCorrectionTarget, reply: msgChooseOrderTarget}, nil
	case KeywordNo:
		return outcome{next: StateIdle, reply: msgCorrectionCancelled}, nil
	}
	return outcome{next: StateConfirmOrderCorrectionStart, reply: msgYesNo}, nil
}

func (e *Engine) handleChooseTarget(ctx context.Context, userID, date, text string, ordered bool) (outcome, error) {
	if !inCatalog(text) {
		state := StateChooseCorrectionTarget
		if ordered {
			state = StateChooseOrderCorrectionTarget
		}
		return outcome{next: state, reply: msgProductOnly}, nil
	}

	if err := e.store.UpsertScratch(ctx, repo.ScratchEntry{
		UserID:       userID,
		BusinessDate: date,
		Product:      text,
		Status:       repo.ScratchPending,
	}); err != nil {
		return outcome{}, fmt.Errorf("record target: %w", err)
	}

	if ordered {
		return outcome{next: StateOrderCorrectionCollecting, reply: promptOrdered(text)}, nil
	}
	return outcome{next: StateCorrectionCollecting, reply: promptRemaining(text)}, nil
}

func (e *Engine) handleCorrectionCollecting(ctx context.Context, userID, date, text string, ordered bool) (outcome, error) {
	quantity, ok := parseQuantity(text)
	if !ok {
		state := StateCorrectionCollecting
		if ordered {
			state = StateOrderCorrectionCollecting
		}
		return outcome{next: state, reply: msgNumericOnlyCorrection}, nil
	}

	target, err := e.correctionTarget(ctx, userID, date)
	if err != nil {
		return outcome{}, err
	}
	if target == "" {
		return outcome{}, fmt.Errorf("correction target missing for user %s", userID)
	}

	if err := e.store.UpsertScratch(ctx, repo.ScratchEntry{
		UserID:       userID,
		BusinessDate: date,
		Product:      target,
		Quantity:     &quantity,
		Status:       repo.ScratchFilled,
	}); err != nil {
		return outcome{}, fmt.Errorf("record answer: %w", err)
	}

	if ordered {
		return outcome{next: StateConfirmOrderCorrectionCommit, reply: confirmOrdered(target, quantity)}, nil
	}
	return outcome{next: StateConfirmCorrectionCommit, reply: confirmRemaining(target, quantity)}, nil
}

func (e *Engine) handleConfirmCorrectionCommit(ctx context.Context, userID, date, text string, ordered bool) (outcome, error) {
	confirmState := StateConfirmCorrectionCommit
	targetState := StateChooseCorrectionTarget
	if ordered {
		confirmState = StateConfirmOrderCorrectionCommit
		targetState = StateChooseOrderCorrectionTarget
	}

	switch text {
	case KeywordYes:
		entries, err := e.store.ListScratch(ctx, userID, date)
		if err != nil {
			return outcome{}, fmt.Errorf("load scratch: %w", err)
		}
		if len(entries) == 0 || entries[len(entries)-1].Quantity == nil {
			return outcome{}, fmt.Errorf("correction answer missing for user %s", userID)
		}
		last := entries[len(entries)-1]

		if ordered {
			err = e.store.UpdateOrdered(ctx, userID, date, last.Product, *last.Quantity)
		} else {
			err = e.store.UpdateRemaining(ctx, userID, date, last.Product, *last.Quantity)
		}
		if errors.Is(err, repo.ErrNotFound) {
			if clearErr := e.store.ClearScratch(ctx, userID); clearErr != nil {
				e.logger.Warn("clear scratch", "user_id", userID, "error", clearErr)
			}
			return outcome{next: StateIdle, reply: msgCorrectionMissing}, nil
		}
		if err != nil {
			return outcome{}, fmt.Errorf("update ledger: %w", err)
		}

		if err := e.store.ClearScratch(ctx, userID); err != nil {
			e.logger.Warn("clear scratch after correction", "user_id", userID, "error", err)
		}
		if ordered {
			return outcome{next: StateIdle, reply: correctedOrdered(last.Product)}, nil
		}
		return outcome{next: StateIdle, reply: correctedRemaining(last.Product)}, nil
	case KeywordNo:
		return outcome{next: targetState, reply: msgRetryTarget}, nil
	}
	return outcome{next: confirmState, reply: msgYesNo}, nil
}

// dayComplete reports whether every catalog product has a committed ledger
// row for the date. Corrections require a completed day.
func (e *Engine) dayComplete(ctx context.Context, userID, date string) (bool, error) {
	rows, err := e.store.LedgerForDate(ctx, userID, date)
	if err != nil {
		return false, fmt.Errorf("load ledger: %w", err)
	}
	present := map[string]bool{}
	for _, row := range rows {
		present[row.Product] = true
	}
	for _, product := range Catalog {
		if !present[product] {
			return false, nil
		}
	}
	return true, nil
}

// correctionTarget is the product the user last selected, carried in the
// scratch area. ListScratch orders oldest to newest, so the last entry wins.
func (e *Engine) correctionTarget(ctx context.Context, userID, date string) (string, error) {
	entries, err := e.store.ListScratch(ctx, userID, date)
	if err != nil {
		return "", fmt.Errorf("load scratch: %w", err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].Product, nil
}

func (e *Engine) reply(ctx context.Context, replyToken, text string) error {
	if err := e.replier.Reply(ctx, replyToken, text); err != nil {
		e.countError("reply")
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (e *Engine) countError(component string) {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func filledProducts(entries []repo.ScratchEntry) map[string]bool {
	done := map[string]bool{}
	for _, entry := range entries {
		if entry.Quantity != nil {
			done[entry.Product] = true
		}
	}
	return done
}

func remainingProducts(done map[string]bool) []string {
	var remaining []string
	for _, product := range Catalog {
		if !done[product] {
			remaining = append(remaining, product)
		}
	}
	return remaining
}

func parseQuantity(text string) (int64, bool) {
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
