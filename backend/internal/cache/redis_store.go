package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 具体实现：基于 redis 的 Store
// UniversalClient 同时兼容单机 Client 和 ClusterClient
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// 分层只体现在键前缀上，真正的快/慢由 TTL 决定
func (s *RedisStore) key(key string, layer Layer) string {
	return s.prefix + layer.String() + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string, layer Layer) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(key, layer)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return b, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, layer Layer, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.key(key, layer), value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string, layer Layer) error {
	return s.rdb.Del(ctx, s.key(key, layer)).Err()
}
