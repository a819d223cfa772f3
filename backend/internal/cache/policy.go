package cache

import (
	"math/rand"
	"time"
)

const (
	DefaultSessionTTL  = 2 * time.Minute
	DefaultDocumentTTL = 30 * time.Minute
	DefaultJitter      = 5 * time.Minute
)

// 随机 TTL，防止同一批文档快照同时过期（缓存雪崩）
func jitteredTTL(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)))
}
