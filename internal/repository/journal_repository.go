// Package repository はセッション鍵ストア、ジャーナル、nonceストアの実装を提供する。
package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"payment-session-client/internal/domain"
)

// JournalEntryModel はgorm用のモデル定義。
type JournalEntryModel struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	Kind       string    `gorm:"type:varchar(16);not null;index:idx_merchant_kind"`
	MerchantID int64     `gorm:"not null;index:idx_merchant_kind"`
	Result     string    `gorm:"type:varchar(16);not null"`
	Amount     string    `gorm:"type:varchar(32)"`
	Currency   string    `gorm:"type:char(3)"`
	Signature  string    `gorm:"type:varchar(64)"`
	Timestamp  int64     `gorm:"not null"`
	Error      string    `gorm:"type:varchar(255)"`
	CreatedAt  time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
}

// TableName はテーブル名を返す。
func (JournalEntryModel) TableName() string {
	return "journal_entries"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (e *JournalEntryModel) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (e *JournalEntryModel) toDomain() *domain.JournalEntry {
	return &domain.JournalEntry{
		ID:         e.ID,
		Kind:       domain.JournalKind(e.Kind),
		MerchantID: e.MerchantID,
		Result:     domain.JournalResult(e.Result),
		Amount:     e.Amount,
		Currency:   e.Currency,
		Signature:  e.Signature,
		Timestamp:  e.Timestamp,
		Error:      e.Error,
		CreatedAt:  e.CreatedAt,
	}
}

// JournalRepository は鍵交換・取引の実行記録を保存する。
type JournalRepository struct {
	db *gorm.DB
}

// NewJournalRepository は新しいJournalRepositoryを生成する。
func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// Record は実行記録を1件保存する。
func (r *JournalRepository) Record(ctx context.Context, entry *domain.JournalEntry) error {
	model := &JournalEntryModel{
		ID:         entry.ID,
		Kind:       string(entry.Kind),
		MerchantID: entry.MerchantID,
		Result:     string(entry.Result),
		Amount:     entry.Amount,
		Currency:   entry.Currency,
		Signature:  entry.Signature,
		Timestamp:  entry.Timestamp,
		Error:      truncate(entry.Error, 255),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record journal entry",
			"operation", "record",
			"kind", entry.Kind,
			"merchant_id", entry.MerchantID,
			"error", err,
		)
		return err
	}
	entry.ID = model.ID
	entry.CreatedAt = model.CreatedAt
	return nil
}

// FindByMerchant は指定された加盟店の記録を新しい順に取得する。
func (r *JournalRepository) FindByMerchant(ctx context.Context, merchantID int64, limit int) ([]*domain.JournalEntry, error) {
	var models []JournalEntryModel
	q := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find journal entries",
			"operation", "find_by_merchant",
			"merchant_id", merchantID,
			"error", err,
		)
		return nil, err
	}

	entries := make([]*domain.JournalEntry, len(models))
	for i, m := range models {
		entries[i] = m.toDomain()
	}
	return entries, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
