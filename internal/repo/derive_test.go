package repo

import "testing"

func TestDeriveLedgerComputesOrderQuantity(t *testing.T) {
	entry := LedgerEntry{Date: "2024/06/10", Product: "キャベツ", RemainingQuantity: 5}
	if err := deriveLedger(&entry, 20, 3, nil); err != nil {
		t.Fatal(err)
	}
	if entry.OrderQuantity != 15 {
		t.Fatalf("order quantity = %d, want 15", entry.OrderQuantity)
	}
	// 2024/06/10 is a Monday; three lead days put delivery on Thursday.
	if entry.Weekday != "月" {
		t.Fatalf("weekday = %q, want 月", entry.Weekday)
	}
	if entry.DeliveryWeekday != "木" {
		t.Fatalf("delivery weekday = %q, want 木", entry.DeliveryWeekday)
	}
}

func TestDeriveLedgerClampsAtZero(t *testing.T) {
	entry := LedgerEntry{Date: "2024/06/10", Product: "カレー", RemainingQuantity: 12}
	if err := deriveLedger(&entry, 10, 2, nil); err != nil {
		t.Fatal(err)
	}
	if entry.OrderQuantity != 0 {
		t.Fatalf("order quantity = %d, want 0", entry.OrderQuantity)
	}
}

func TestDeriveLedgerAppliesOverride(t *testing.T) {
	override := int64(7)
	entry := LedgerEntry{Date: "2024/06/10", Product: "プリン", RemainingQuantity: 3}
	if err := deriveLedger(&entry, 15, 2, &override); err != nil {
		t.Fatal(err)
	}
	if entry.OrderQuantity != 7 {
		t.Fatalf("order quantity = %d, want 7", entry.OrderQuantity)
	}
}

func TestDeriveLedgerRejectsBadDate(t *testing.T) {
	entry := LedgerEntry{Date: "June 10", Product: "カレー"}
	if err := deriveLedger(&entry, 10, 2, nil); err == nil {
		t.Fatal("expected error for malformed date")
	}
}
