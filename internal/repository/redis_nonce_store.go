package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisNonceStore はRedisのSET NXでnonceを記憶するストア。
type RedisNonceStore struct {
	cli     *redis.Client
	ttl     time.Duration
	keyPref string
}

// NewRedisNonceStore は新しいRedisNonceStoreを生成する。
func NewRedisNonceStore(cli *redis.Client, ttl time.Duration) *RedisNonceStore {
	return &RedisNonceStore{
		cli:     cli,
		ttl:     ttl,
		keyPref: "exchange:nonce:",
	}
}

// Remember はnonceを記録し、初めて見たnonceならtrueを返す。
func (s *RedisNonceStore) Remember(ctx context.Context, nonce string) (bool, error) {
	ok, err := s.cli.SetNX(ctx, s.keyPref+nonce, "1", s.ttl).Result()
	if err != nil {
		slog.ErrorContext(ctx, "failed to remember nonce",
			"operation", "remember_nonce",
			"error", err,
		)
		return false, err
	}
	return ok, nil
}
