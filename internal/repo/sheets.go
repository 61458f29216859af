package repo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheet ranges. The spreadsheet carries the derivation layer: weekday, order
// quantity and delivery weekday are written as formulas and read back as
// computed values.
const (
	stateRange   = "状態!A:C"
	scratchRange = "入力中!A:E"
	ledgerRange  = "発注記録!A:G"
	backupRange  = "バックアップ!A:G"
	auditRange   = "ログ!A:D"
	ledgerSheet  = "発注記録"
)

// SheetsStore persists conversation data in a Google Sheets spreadsheet.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        *slog.Logger
}

// NewSheets builds a store backed by the given spreadsheet. credentialsJSON
// may be empty to use application default credentials.
func NewSheets(ctx context.Context, spreadsheetID, credentialsJSON string, logger *slog.Logger) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is empty")
	}

	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &SheetsStore{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger.With("component", "repo_sheets"),
	}, nil
}

// Close is a no-op; the sheets service holds no persistent connection.
func (s *SheetsStore) Close() {}

// Ping verifies the spreadsheet is reachable.
func (s *SheetsStore) Ping(ctx context.Context) error {
	if _, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets ping: %w", err)
	}
	return nil
}

// RunMigrations is a no-op; the spreadsheet tabs are provisioned by hand.
func (s *SheetsStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return nil
}

// -- Range helpers --

func (s *SheetsStore) getValues(ctx context.Context, rng string) ([][]any, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets get %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (s *SheetsStore) appendValues(ctx context.Context, rng string, values [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets append %s: %w", rng, err)
	}
	return nil
}

func (s *SheetsStore) updateValues(ctx context.Context, rng string, values [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets update %s: %w", rng, err)
	}
	return nil
}

func (s *SheetsStore) clearValues(ctx context.Context, rng string) error {
	_, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets clear %s: %w", rng, err)
	}
	return nil
}

func cellString(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[idx]))
}

func cellInt(row []any, idx int) (int64, bool) {
	raw := cellString(row, idx)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// -- User state --

func (s *SheetsStore) GetUserState(ctx context.Context, userID string) (*UserState, error) {
	rows, err := s.getValues(ctx, stateRange)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if cellString(row, 0) == userID {
			return &UserState{
				UserID:   userID,
				State:    cellString(row, 1),
				FlowDate: cellString(row, 2),
			}, nil
		}
	}
	return nil, ErrNotFound
}

func (s *SheetsStore) SetUserState(ctx context.Context, state UserState) error {
	rows, err := s.getValues(ctx, stateRange)
	if err != nil {
		return err
	}
	for idx, row := range rows {
		if cellString(row, 0) == state.UserID {
			rng := fmt.Sprintf("状態!A%d:C%d", idx+1, idx+1)
			return s.updateValues(ctx, rng, [][]any{{state.UserID, state.State, state.FlowDate}})
		}
	}
	return s.appendValues(ctx, stateRange, [][]any{{state.UserID, state.State, state.FlowDate}})
}

// -- Scratch --

// ListScratch resolves the append-only scratch log: the last row per product
// wins, and a re-written product moves to the end of the returned slice.
func (s *SheetsStore) ListScratch(ctx context.Context, userID, date string) ([]ScratchEntry, error) {
	rows, err := s.getValues(ctx, scratchRange)
	if err != nil {
		return nil, err
	}

	var order []string
	byProduct := map[string]ScratchEntry{}
	for _, row := range rows {
		if cellString(row, 0) != userID || cellString(row, 1) != date {
			continue
		}
		product := cellString(row, 2)
		if product == "" {
			continue
		}
		entry := ScratchEntry{
			UserID:       userID,
			BusinessDate: date,
			Product:      product,
			Status:       cellString(row, 4),
		}
		if qty, ok := cellInt(row, 3); ok {
			entry.Quantity = &qty
		}
		if entry.Status == "" {
			if entry.Quantity != nil {
				entry.Status = ScratchFilled
			} else {
				entry.Status = ScratchPending
			}
		}
		if _, seen := byProduct[product]; seen {
			for i, p := range order {
				if p == product {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
		}
		order = append(order, product)
		byProduct[product] = entry
	}

	entries := make([]ScratchEntry, 0, len(order))
	for _, p := range order {
		entries = append(entries, byProduct[p])
	}
	return entries, nil
}

func (s *SheetsStore) UpsertScratch(ctx context.Context, entry ScratchEntry) error {
	var qty any = ""
	if entry.Quantity != nil {
		qty = *entry.Quantity
	}
	return s.appendValues(ctx, scratchRange, [][]any{
		{entry.UserID, entry.BusinessDate, entry.Product, qty, entry.Status},
	})
}

func (s *SheetsStore) ClearScratch(ctx context.Context, userID string) error {
	rows, err := s.getValues(ctx, scratchRange)
	if err != nil {
		return err
	}
	var remain [][]any
	for _, row := range rows {
		if cellString(row, 0) != userID {
			remain = append(remain, row)
		}
	}
	if err := s.clearValues(ctx, scratchRange); err != nil {
		return err
	}
	if len(remain) > 0 {
		return s.updateValues(ctx, scratchRange, remain)
	}
	return nil
}

// -- Ledger --

func ledgerRowMatches(row []any, userID, date, product string) bool {
	if cellString(row, 0) != date || cellString(row, 5) != userID {
		return false
	}
	return product == "" || cellString(row, 2) == product
}

func (s *SheetsStore) LedgerForDate(ctx context.Context, userID, date string) ([]LedgerEntry, error) {
	rows, err := s.getValues(ctx, ledgerRange)
	if err != nil {
		return nil, err
	}

	var entries []LedgerEntry
	for _, row := range rows {
		if !ledgerRowMatches(row, userID, date, "") {
			continue
		}
		e := LedgerEntry{
			Date:            cellString(row, 0),
			Weekday:         cellString(row, 1),
			Product:         cellString(row, 2),
			RecordedBy:      cellString(row, 5),
			DeliveryWeekday: cellString(row, 6),
		}
		if qty, ok := cellInt(row, 3); ok {
			e.RemainingQuantity = qty
		}
		if qty, ok := cellInt(row, 4); ok {
			e.OrderQuantity = qty
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CommitLedger writes the literal columns and per-row formulas for the derived
// columns, updating an existing matched row in place so a retry never appends
// a duplicate. The rows are read back so the returned entries carry the
// spreadsheet-computed values.
func (s *SheetsStore) CommitLedger(ctx context.Context, entries []LedgerEntry) ([]LedgerEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	rows, err := s.getValues(ctx, ledgerRange)
	if err != nil {
		return nil, err
	}
	nextRow := len(rows) + 1

	for _, e := range entries {
		rowNum := 0
		for idx, row := range rows {
			if ledgerRowMatches(row, e.RecordedBy, e.Date, e.Product) {
				rowNum = idx + 1
				break
			}
		}
		if rowNum == 0 {
			rowNum = nextRow
			nextRow++
		}

		rng := fmt.Sprintf("%s!A%d:G%d", ledgerSheet, rowNum, rowNum)
		values := [][]any{{
			e.Date,
			weekdayFormula(rowNum),
			e.Product,
			e.RemainingQuantity,
			orderQuantityFormula(rowNum),
			e.RecordedBy,
			deliveryWeekdayFormula(rowNum),
		}}
		if err := s.updateValues(ctx, rng, values); err != nil {
			return nil, err
		}
	}

	return s.LedgerForDate(ctx, entries[0].RecordedBy, entries[0].Date)
}

func (s *SheetsStore) updateLedgerCell(ctx context.Context, userID, date, product, column string, quantity int64) error {
	rows, err := s.getValues(ctx, ledgerRange)
	if err != nil {
		return err
	}
	for idx, row := range rows {
		if ledgerRowMatches(row, userID, date, product) {
			rng := fmt.Sprintf("%s!%s%d", ledgerSheet, column, idx+1)
			return s.updateValues(ctx, rng, [][]any{{quantity}})
		}
	}
	return ErrNotFound
}

func (s *SheetsStore) UpdateRemaining(ctx context.Context, userID, date, product string, quantity int64) error {
	return s.updateLedgerCell(ctx, userID, date, product, "D", quantity)
}

func (s *SheetsStore) UpdateOrdered(ctx context.Context, userID, date, product string, quantity int64) error {
	return s.updateLedgerCell(ctx, userID, date, product, "E", quantity)
}

func (s *SheetsStore) ArchiveDay(ctx context.Context, userID, date string) error {
	rows, err := s.getValues(ctx, ledgerRange)
	if err != nil {
		return err
	}

	var archived, remain [][]any
	for _, row := range rows {
		if ledgerRowMatches(row, userID, date, "") {
			archived = append(archived, row)
		} else {
			remain = append(remain, row)
		}
	}
	if len(archived) == 0 {
		return nil
	}

	if err := s.appendValues(ctx, backupRange, archived); err != nil {
		return err
	}
	if err := s.clearValues(ctx, ledgerRange); err != nil {
		return err
	}
	if len(remain) > 0 {
		return s.updateValues(ctx, ledgerRange, remain)
	}
	return nil
}

// -- Audit --

func (s *SheetsStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	return s.appendValues(ctx, auditRange, [][]any{
		{rec.UserID, rec.Timestamp, rec.State, rec.Text},
	})
}

// -- Derived column formulas --

func weekdayFormula(row int) string {
	return fmt.Sprintf(`=IF(A%d="","",TEXT(A%d,"ddd"))`, row, row)
}

func orderQuantityFormula(row int) string {
	return fmt.Sprintf(`=IF($D%d="","",MAX(VLOOKUP($C%d,条件!$A:$B,2,FALSE)-$D%d,0))`, row, row, row)
}

func deliveryWeekdayFormula(row int) string {
	return fmt.Sprintf(`=IF(F%d="","",IF($C%d="キャベツ",TEXT($A%d+3,"ddd"),TEXT($A%d+2,"ddd")))`, row, row, row, row)
}
