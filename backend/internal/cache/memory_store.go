package cache

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	layer Layer
	key   string
}

type memoryItem struct {
	value    []byte
	expireAt time.Time // 零值表示不过期
}

// MemoryStore 进程内实现，未配置 redis 时使用，也用于测试
type MemoryStore struct {
	mu    sync.Mutex
	items map[memoryKey]memoryItem
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[memoryKey]memoryItem), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string, layer Layer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{layer: layer, key: key}
	it, ok := s.items[k]
	if !ok {
		return nil, ErrMiss
	}
	if !it.expireAt.IsZero() && !s.now().Before(it.expireAt) {
		delete(s.items, k)
		return nil, ErrMiss
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, layer Layer, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expireAt = s.now().Add(ttl)
	}
	s.items[memoryKey{layer: layer, key: key}] = it
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string, layer Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, memoryKey{layer: layer, key: key})
	return nil
}

// Len 当前未过期的条目数
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for _, it := range s.items {
		if it.expireAt.IsZero() || now.Before(it.expireAt) {
			n++
		}
	}
	return n
}
