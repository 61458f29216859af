package repo

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"zaiko-bot/migrations"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Close)
	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSQLiteListScratchOrdersByLastWrite(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	// Re-selecting an earlier product within one timestamp tick must still
	// move it to the end: the correction flow targets the last entry.
	for _, product := range []string{"キャベツ", "カレー", "キャベツ"} {
		err := store.UpsertScratch(ctx, ScratchEntry{
			UserID:       "U1",
			BusinessDate: "2024/06/10",
			Product:      product,
			Status:       ScratchPending,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.ListScratch(ctx, "U1", "2024/06/10")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Product != "カレー" {
		t.Fatalf("first entry = %q, want カレー", entries[0].Product)
	}
	if entries[1].Product != "キャベツ" {
		t.Fatalf("last entry = %q, want キャベツ", entries[1].Product)
	}
}

func TestSQLiteUpsertScratchLastWriteWins(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	first := int64(5)
	second := int64(9)
	for _, qty := range []*int64{&first, &second} {
		err := store.UpsertScratch(ctx, ScratchEntry{
			UserID:       "U1",
			BusinessDate: "2024/06/10",
			Product:      "プリン",
			Quantity:     qty,
			Status:       ScratchFilled,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.ListScratch(ctx, "U1", "2024/06/10")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Quantity == nil || *entries[0].Quantity != 9 {
		t.Fatalf("quantity = %v, want 9", entries[0].Quantity)
	}
}
