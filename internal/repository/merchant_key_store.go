package repository

import (
	"sync"

	"payment-session-client/internal/domain"
)

// MerchantKeyStore はサンドボックスのピアが発行したセッション鍵を加盟店ごとに保持する。
type MerchantKeyStore struct {
	mu   sync.RWMutex
	keys map[int64]*domain.SessionKeys
}

// NewMerchantKeyStore は新しいMerchantKeyStoreを生成する。
func NewMerchantKeyStore() *MerchantKeyStore {
	return &MerchantKeyStore{keys: make(map[int64]*domain.SessionKeys)}
}

// Put は加盟店の鍵を置き換える。
func (s *MerchantKeyStore) Put(keys *domain.SessionKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.keys[keys.MerchantID]; ok {
		prev.Zeroize()
	}
	s.keys[keys.MerchantID] = keys.Clone()
}

// Find は加盟店の鍵のコピーを返す。存在しない場合はnil。
func (s *MerchantKeyStore) Find(merchantID int64) *domain.SessionKeys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, ok := s.keys[merchantID]
	if !ok {
		return nil
	}
	return keys.Clone()
}
