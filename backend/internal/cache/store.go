package cache

import (
	"context"
	"errors"
	"time"
)

// Layer 缓存分层
type Layer int

const (
	// LayerSession 快速层：编辑会话/在线信息，TTL 秒到分钟级
	LayerSession Layer = iota
	// LayerDocument 慢速层：文档快照与截断后的历史，TTL 几十分钟
	LayerDocument
)

func (l Layer) String() string {
	switch l {
	case LayerSession:
		return "session"
	case LayerDocument:
		return "document"
	default:
		return "unknown"
	}
}

// ErrMiss 键不存在（或已过期）
var ErrMiss = errors.New("cache miss")

// Store 外部多级缓存的最小契约
type Store interface {
	Get(ctx context.Context, key string, layer Layer) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, layer Layer, ttl time.Duration) error
	Delete(ctx context.Context, key string, layer Layer) error
}
