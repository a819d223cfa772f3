package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	s := NewRedisStore(rdb, "collab-test:")
	key := stateKey("redis-store-test")
	defer s.Delete(ctx, key, LayerDocument)

	_, err := s.Get(ctx, key, LayerDocument)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, key, []byte(`{"version":1}`), LayerDocument, time.Minute))
	got, err := s.Get(ctx, key, LayerDocument)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1}`, string(got))

	ttl, err := rdb.TTL(ctx, "collab-test:document:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Delete(ctx, key, LayerDocument))
	_, err = s.Get(ctx, key, LayerDocument)
	assert.ErrorIs(t, err, ErrMiss)
}
