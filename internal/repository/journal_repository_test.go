package repository

import (
	"context"
	"testing"

	"payment-session-client/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sql := `
		CREATE TABLE journal_entries (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			merchant_id INTEGER NOT NULL,
			result TEXT NOT NULL,
			amount TEXT,
			currency TEXT,
			signature TEXT,
			timestamp INTEGER NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX idx_merchant_kind ON journal_entries(merchant_id, kind);
	`
	if err := db.Exec(sql).Error; err != nil {
		t.Fatalf("failed to create journal_entries table: %v", err)
	}

	return db
}

func TestJournalRepository_Record(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewJournalRepository(db)

	entry := &domain.JournalEntry{
		Kind:       domain.JournalKindTransaction,
		MerchantID: 42,
		Result:     domain.JournalResultSuccess,
		Amount:     "10.5",
		Currency:   "USD",
		Signature:  "c2lnbmF0dXJl",
		Timestamp:  1700000000000,
	}
	if err := repo.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// UUID自動生成を確認
	if entry.ID == "" {
		t.Error("expected ID to be generated, got empty")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set, got zero value")
	}

	var count int64
	if err := db.Model(&JournalEntryModel{}).Where("merchant_id = ?", 42).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 record, got %d", count)
	}
}

func TestJournalRepository_RecordTruncatesError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewJournalRepository(db)

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	entry := &domain.JournalEntry{
		Kind:       domain.JournalKindExchange,
		MerchantID: 1,
		Result:     domain.JournalResultFailed,
		Error:      string(long),
		Timestamp:  1,
	}
	if err := repo.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	var model JournalEntryModel
	if err := db.Where("id = ?", entry.ID).First(&model).Error; err != nil {
		t.Fatalf("failed to fetch record: %v", err)
	}
	if len(model.Error) != 255 {
		t.Errorf("expected error truncated to 255, got %d", len(model.Error))
	}
}

func TestJournalRepository_FindByMerchant(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewJournalRepository(db)

	// テストデータを挿入
	testData := []struct {
		id        string
		merchant  int64
		kind      string
		timestamp int64
	}{
		{"id-1", 42, "exchange", 1000},
		{"id-2", 42, "transaction", 2000},
		{"id-3", 42, "transaction", 3000},
		{"id-4", 7, "exchange", 4000},
	}
	for _, d := range testData {
		if err := db.Exec("INSERT INTO journal_entries (id, kind, merchant_id, result, timestamp, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			d.id, d.kind, d.merchant, "success", d.timestamp, "2026-01-01 00:00:00").Error; err != nil {
			t.Fatalf("failed to insert test data: %v", err)
		}
	}

	entries, err := repo.FindByMerchant(ctx, 42, 0)
	if err != nil {
		t.Fatalf("FindByMerchant failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// 新しい順に並ぶことを確認
	expected := []string{"id-3", "id-2", "id-1"}
	for i, e := range entries {
		if e.ID != expected[i] {
			t.Errorf("entries[%d]: expected %s, got %s", i, expected[i], e.ID)
		}
	}

	limited, err := repo.FindByMerchant(ctx, 42, 1)
	if err != nil {
		t.Fatalf("FindByMerchant failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 entry with limit, got %d", len(limited))
	}

	// 記録がない場合
	entries, err = repo.FindByMerchant(ctx, 99, 0)
	if err != nil {
		t.Fatalf("FindByMerchant failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty slice, got %d entries", len(entries))
	}
}
