package repository

import (
	"fmt"
	"sync"
	"time"

	"payment-session-client/internal/domain"
)

// SessionKeyStore は選択中の加盟店のセッション鍵を最大1つだけ保持する。
// Set と Get はミューテックスで直列化され、置き換え途中の値は観測されない。
type SessionKeyStore struct {
	mu       sync.RWMutex
	keys     *domain.SessionKeys
	issuedAt time.Time

	ttl time.Duration
	now func() time.Time
}

// SessionStoreOption はSessionKeyStoreの設定。
type SessionStoreOption func(*SessionKeyStore)

// WithTTL はセッション鍵の有効期限を設定する。0以下は無期限。
func WithTTL(ttl time.Duration) SessionStoreOption {
	return func(s *SessionKeyStore) {
		s.ttl = ttl
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionKeyStore) {
		s.now = now
	}
}

// NewSessionKeyStore は新しいSessionKeyStoreを生成する。
func NewSessionKeyStore(opts ...SessionStoreOption) *SessionKeyStore {
	s := &SessionKeyStore{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set は既存の値を無条件に置き換える。以前の鍵はゼロ化される。
func (s *SessionKeyStore) Set(keys *domain.SessionKeys) {
	stored := keys.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys != nil {
		s.keys.Zeroize()
	}
	s.keys = stored
	s.issuedAt = s.now()
}

// Get は指定された加盟店のセッション鍵のコピーを返す。
// 空の場合は ErrSessionMismatch と ErrNoSession の両方に一致するエラー、
// 別の加盟店の場合は ErrSessionMismatch を返す。
func (s *SessionKeyStore) Get(merchantID int64) (*domain.SessionKeys, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.keys == nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSessionMismatch, domain.ErrNoSession)
	}
	if s.ttl > 0 && s.now().Sub(s.issuedAt) >= s.ttl {
		return nil, fmt.Errorf("%w: %w: session expired", domain.ErrSessionMismatch, domain.ErrNoSession)
	}
	if s.keys.MerchantID != merchantID {
		return nil, fmt.Errorf("%w: stored merchant %d, requested %d", domain.ErrSessionMismatch, s.keys.MerchantID, merchantID)
	}
	return s.keys.Clone(), nil
}

// Clear はセッション鍵をゼロ化して破棄する。
func (s *SessionKeyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys != nil {
		s.keys.Zeroize()
		s.keys = nil
	}
}
