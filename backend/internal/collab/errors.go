package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionAhead 客户端版本比服务端还新：协议错误，客户端需要重新同步
	ErrVersionAhead = errors.New("VERSION_AHEAD")
	// ErrHistoryTruncated 客户端落后超过保留的历史窗口，无法 rebase，需要全量重新同步
	ErrHistoryTruncated = errors.New("HISTORY_TRUNCATED")
	// ErrQueueTimeout 等待同一文档前序操作超时
	ErrQueueTimeout = errors.New("QUEUE_TIMEOUT")
	// ErrInvalidUser 用户标识为空
	ErrInvalidUser = errors.New("INVALID_USER")
	// ErrEngineClosed Shutdown 之后不再接受新的请求
	ErrEngineClosed = errors.New("ENGINE_CLOSED")
)

// VersionError 带上版本上下文，errors.Is 可匹配到对应的哨兵错误
type VersionError struct {
	Err           error
	Key           DocKey
	ClientVersion int
	ServerVersion int
	OldestVersion int // 保留历史中可以 rebase 的最小客户端版本
}

func (e *VersionError) Error() string {
	if errors.Is(e.Err, ErrHistoryTruncated) {
		return fmt.Sprintf("%v: doc=%s client=%d oldest=%d server=%d",
			e.Err, e.Key, e.ClientVersion, e.OldestVersion, e.ServerVersion)
	}
	return fmt.Sprintf("%v: doc=%s client=%d server=%d", e.Err, e.Key, e.ClientVersion, e.ServerVersion)
}

func (e *VersionError) Unwrap() error { return e.Err }
