package repo

import "time"

// Scratch entry statuses.
const (
	ScratchPending = "pending"
	ScratchFilled  = "filled"
)

// UserState is the persisted dialogue position of one user. FlowDate pins the
// business date captured when the user left the idle state; it is empty while
// idle so that a new flow picks up the current date.
type UserState struct {
	UserID   string
	State    string
	FlowDate string
}

// ScratchEntry is one in-progress answer of the multi-step form.
type ScratchEntry struct {
	UserID       string
	BusinessDate string
	Product      string
	Quantity     *int64
	Status       string
	UpdatedAt    time.Time
}

// LedgerEntry is one committed order row. Weekday, OrderQuantity and
// DeliveryWeekday are derived by the store; callers write only Date, Product,
// RemainingQuantity and RecordedBy and read the rest back after commit.
type LedgerEntry struct {
	Date              string
	Weekday           string
	Product           string
	RemainingQuantity int64
	OrderQuantity     int64
	RecordedBy        string
	DeliveryWeekday   string
}

// AuditRecord is one best-effort turn log row.
type AuditRecord struct {
	UserID    string
	Timestamp string
	State     string
	Text      string
}
