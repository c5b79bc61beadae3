package repository

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryNonceStore はプロセス内でnonceを記憶するストア。
type MemoryNonceStore struct {
	seen *cache.Cache
}

// NewMemoryNonceStore は新しいMemoryNonceStoreを生成する。
// 期限切れのnonceはttlごとに掃除される。
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	return &MemoryNonceStore{
		seen: cache.New(ttl, ttl),
	}
}

// Remember はnonceを記録し、初めて見たnonceならtrueを返す。
func (s *MemoryNonceStore) Remember(ctx context.Context, nonce string) (bool, error) {
	// Addは有効なエントリが既にあればエラーを返す
	if err := s.seen.Add(nonce, struct{}{}, cache.DefaultExpiration); err != nil {
		return false, nil
	}
	return true, nil
}
