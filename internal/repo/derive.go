package repo

import (
	"fmt"
	"time"

	"zaiko-bot/internal/clock"
)

// Derivation shared by the SQL-backed stores. The sheets store delegates the
// same columns to spreadsheet formulas instead.

var weekdayLabels = [...]string{"日", "月", "火", "水", "木", "金", "土"}

// deriveLedger fills the store-owned columns of a ledger row from the
// replenishment conditions: target stock level and delivery lead days.
func deriveLedger(entry *LedgerEntry, targetStock, leadDays int64, override *int64) error {
	day, err := time.Parse(clock.DateLayout, entry.Date)
	if err != nil {
		return fmt.Errorf("parse ledger date %q: %w", entry.Date, err)
	}

	entry.Weekday = weekdayLabels[day.Weekday()]
	entry.DeliveryWeekday = weekdayLabels[day.AddDate(0, 0, int(leadDays)).Weekday()]

	if override != nil {
		entry.OrderQuantity = *override
		return nil
	}
	qty := targetStock - entry.RemainingQuantity
	if qty < 0 {
		qty = 0
	}
	entry.OrderQuantity = qty
	return nil
}
