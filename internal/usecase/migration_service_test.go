package usecase

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"payment-session-client/internal/domain"
	"payment-session-client/internal/repository"
	"payment-session-client/migrations"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// mockMigrationRepository はテスト用のモック。
type mockMigrationRepository struct {
	appliedMigrations map[string]*domain.Migration
	recordError       error
	ensureCalls       int
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{
		appliedMigrations: make(map[string]*domain.Migration),
	}
}

func (m *mockMigrationRepository) EnsureTable(ctx context.Context) error {
	m.ensureCalls++
	return nil
}

func (m *mockMigrationRepository) AppliedVersions(ctx context.Context) (map[string]*domain.Migration, error) {
	out := make(map[string]*domain.Migration, len(m.appliedMigrations))
	for k, v := range m.appliedMigrations {
		out[k] = v
	}
	return out, nil
}

func (m *mockMigrationRepository) RecordMigration(ctx context.Context, tx *gorm.DB, version string) error {
	if m.recordError != nil {
		return m.recordError
	}
	now := time.Now()
	m.appliedMigrations[version] = &domain.Migration{
		Version:   version,
		AppliedAt: &now,
		Status:    domain.MigrationStatusApplied,
	}
	return nil
}

// testMigrations はテスト用のマイグレーションファイル群を返す。
func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_create_users.sql":    {Data: []byte("CREATE TABLE users (id INT);")},
		"002_create_posts.sql":    {Data: []byte("CREATE TABLE posts (id INT);")},
		"003_create_comments.sql": {Data: []byte("CREATE TABLE comments (id INT);")},
		"README.md":               {Data: []byte("not a migration")},
	}
}

// setupMigrationDB はテスト用のインメモリSQLiteデータベースを作成する。
func setupMigrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

func tableExists(t *testing.T, db *gorm.DB, table string) bool {
	t.Helper()
	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count).Error; err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return count == 1
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationDB(t)
	repo := newMockMigrationRepository()

	service := NewMigrationService(repo, db, testMigrations())

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 migrations applied, got %d", count)
	}
	if repo.ensureCalls != 1 {
		t.Errorf("expected EnsureTable once, got %d", repo.ensureCalls)
	}

	for _, table := range []string{"users", "posts", "comments"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s was not created", table)
		}
	}
}

func TestMigrationService_ApplyMigrations_AlreadyApplied(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationDB(t)
	repo := newMockMigrationRepository()

	now := time.Now()
	repo.appliedMigrations["001"] = &domain.Migration{Version: "001", AppliedAt: &now, Status: domain.MigrationStatusApplied}
	repo.appliedMigrations["002"] = &domain.Migration{Version: "002", AppliedAt: &now, Status: domain.MigrationStatusApplied}

	service := NewMigrationService(repo, db, testMigrations())

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migration applied, got %d", count)
	}
	if tableExists(t, db, "users") {
		t.Error("applied migration 001 must not run again")
	}
}

func TestMigrationService_ApplyMigrations_InvalidSQL(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationDB(t)
	repo := newMockMigrationRepository()

	files := testMigrations()
	files["004_invalid.sql"] = &fstest.MapFile{Data: []byte("INVALID SQL SYNTAX;")}

	service := NewMigrationService(repo, db, files)

	count, err := service.ApplyMigrations(ctx)
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 migrations applied before failure, got %d", count)
	}
	if _, ok := repo.appliedMigrations["004"]; ok {
		t.Error("failed migration must not be recorded")
	}
}

func TestMigrationService_ApplyMigrations_RecordFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationDB(t)
	repo := newMockMigrationRepository()
	repo.recordError = errors.New("disk full")

	service := NewMigrationService(repo, db, fstest.MapFS{
		"001_create_users.sql": {Data: []byte("CREATE TABLE users (id INT);")},
	})

	if _, err := service.ApplyMigrations(ctx); err == nil {
		t.Fatal("expected error when recording fails")
	}
	if tableExists(t, db, "users") {
		t.Error("migration SQL must be rolled back when recording fails")
	}
}

func TestMigrationService_InvalidFileName(t *testing.T) {
	db := setupMigrationDB(t)
	service := NewMigrationService(newMockMigrationRepository(), db, fstest.MapFS{
		"create_users.sql": {Data: []byte("CREATE TABLE users (id INT);")},
	})

	_, err := service.GetMigrationStatus(context.Background())
	if !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationDB(t)
	repo := newMockMigrationRepository()

	now := time.Now()
	repo.appliedMigrations["001"] = &domain.Migration{Version: "001", AppliedAt: &now, Status: domain.MigrationStatusApplied}

	service := NewMigrationService(repo, db, testMigrations())

	list, err := service.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(list))
	}

	expected := []struct {
		version string
		name    string
		status  domain.MigrationStatus
	}{
		{"001", "create_users", domain.MigrationStatusApplied},
		{"002", "create_posts", domain.MigrationStatusPending},
		{"003", "create_comments", domain.MigrationStatusPending},
	}
	for i, want := range expected {
		got := list[i]
		if got.Version != want.version || got.Name != want.name || got.Status != want.status {
			t.Errorf("migration %d: want %+v, got %s/%s/%s", i, want, got.Version, got.Name, got.Status)
		}
	}
	if list[0].AppliedAt == nil {
		t.Error("applied migration must carry AppliedAt")
	}
}

func TestMigrationService_EmbeddedJournalSchema(t *testing.T) {
	ctx := context.Background()
	db := setupMigrationDB(t)
	repo := repository.NewMigrationRepository(db)

	service := NewMigrationService(repo, db, migrations.FS)

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 migrations applied, got %d", count)
	}

	// 2回目は何も適用しない
	count, err = service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations on second run, got %d", count)
	}

	journal := repository.NewJournalRepository(db)
	entry := &domain.JournalEntry{
		Kind:       domain.JournalKindExchange,
		MerchantID: 42,
		Result:     domain.JournalResultSuccess,
		Timestamp:  1700000000000,
	}
	if err := journal.Record(ctx, entry); err != nil {
		t.Fatalf("Record on migrated schema failed: %v", err)
	}
}
