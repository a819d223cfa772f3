package collab

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/ot"
)

const (
	DefaultHistoryLimit = 100
	DefaultHistoryPage  = 50
	DefaultIdleTimeout  = 10 * time.Minute
)

// 协作引擎对外接口（控制器 / websocket 连接调用）
type Service interface {
	StartEditing(ctx context.Context, userID, entityID, field string) error
	StopEditing(ctx context.Context, userID, entityID, field string) error
	ApplyOperation(ctx context.Context, entityID, field string, op ot.EditOperation, clientVersion int, userID string) (ot.TransformedOperation, error)

	GetDocumentState(ctx context.Context, entityID, field string) *DocumentState
	GetCollaborators(ctx context.Context, entityID, field string) []string
	GetOperationHistory(ctx context.Context, entityID, field string, limit int) []ot.TransformedOperation

	Shutdown(ctx context.Context) error
}

// Persistence 最终内容的持久化（数据库）
// 两个方法都在文档队列的临界区内调用，实现必须在 ctx 到期后尽快返回：
// holdTimeout 只能通过 ctx 通知，忽略 ctx 的实现会让该文档后面的调用全部卡住
type Persistence interface {
	SaveFinalContent(ctx context.Context, entityID, field, content string) error
	// 找不到时返回 "", nil
	LoadInitialContent(ctx context.Context, entityID, field string) (string, error)
}

// SnapshotArchiver 落盘时额外归档一份带版本号的快照（可选），对 ctx 的要求同 Persistence
type SnapshotArchiver interface {
	SaveDocumentSnapshot(ctx context.Context, docKey string, version int, content string) error
}

// EventPublisher 文档事件推送（可选），KafkaDispatcher 实现
type EventPublisher interface {
	Enqueue(ctx context.Context, evt DocOpEvent) error
}

// StateCache 缓存桥，cache.Bridge 实现
type StateCache interface {
	LoadDocument(ctx context.Context, docKey string) (*cache.Snapshot, []ot.TransformedOperation, bool)
	SaveDocument(docKey string, snap cache.Snapshot, history []ot.TransformedOperation)
	PublishEditing(docKey string, rec cache.EditingRecord)
	Collaborators(ctx context.Context, docKey string) (*cache.EditingRecord, bool)
	Evict(ctx context.Context, docKey string) error
}

type Options struct {
	HistoryLimit     int           // 内存与缓存中保留的历史条数
	QueueWaitTimeout time.Duration // 等待同一文档前序操作的上限
	HoldTimeout      time.Duration // 临界区内 I/O（加载、落盘）的上限
	PublishTimeout   time.Duration // 事件入队的上限
	IdleTimeout      time.Duration // 没有会话的文档空闲多久后落盘并移出内存

	Archiver  SnapshotArchiver
	Publisher EventPublisher
	Now       func() time.Time
}

func (o *Options) withDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.QueueWaitTimeout <= 0 {
		o.QueueWaitTimeout = 5 * time.Second
	}
	if o.HoldTimeout <= 0 {
		o.HoldTimeout = 3 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 20 * time.Millisecond
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine 单进程内每个文档键唯一的权威状态
type Engine struct {
	docs    *registry
	queue   *keyedQueue
	cache   StateCache
	persist Persistence
	log     *zap.Logger
	opts    Options
	closed  atomic.Bool
}

var _ Service = (*Engine)(nil)

func NewEngine(persist Persistence, stateCache StateCache, log *zap.Logger, opts Options) *Engine {
	opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		docs:    newRegistry(),
		queue:   newKeyedQueue(opts.QueueWaitTimeout, opts.HoldTimeout),
		cache:   stateCache,
		persist: persist,
		log:     log,
		opts:    opts,
	}
}

// ApplyOperation 同一文档上的调用按进入顺序串行执行
func (e *Engine) ApplyOperation(ctx context.Context, entityID, field string, op ot.EditOperation, clientVersion int, userID string) (ot.TransformedOperation, error) {
	if e.closed.Load() {
		return ot.TransformedOperation{}, ErrEngineClosed
	}
	if err := ot.Validate(op); err != nil {
		return ot.TransformedOperation{}, err
	}
	if clientVersion < 0 {
		return ot.TransformedOperation{}, fmt.Errorf("%w: negative client version %d", ot.ErrInvalidOperation, clientVersion)
	}

	key := NewDocKey(entityID, field)
	var applied ot.TransformedOperation
	err := e.queue.Do(ctx, key, func(ctx context.Context) error {
		ds := e.loadOrInit(ctx, key)
		var err error
		applied, err = e.commit(ds, op, clientVersion, userID)
		if err != nil {
			return err
		}
		e.saveSnapshot(ds)
		committedOp := applied.EditOperation
		e.publish(DocOpEvent{
			EventType:   EventOpApplied,
			DocKey:      key.String(),
			EntityID:    key.EntityID,
			Field:       key.Field,
			OperationID: applied.OperationID,
			Version:     applied.Version,
			BaseVersion: applied.BaseVersion,
			UserID:      applied.UserID,
			Op:          &committedOp,
			At:          applied.Timestamp,
		})
		return nil
	})
	if err != nil {
		e.log.Debug("operation rejected",
			zap.Stringer("doc", key), zap.String("user", userID),
			zap.Int("clientVersion", clientVersion), zap.Error(err))
		return ot.TransformedOperation{}, err
	}
	return applied, nil
}

// commit 校验版本、rebase、应用并推进版本；任何一步失败都不修改状态
func (e *Engine) commit(ds *docState, op ot.EditOperation, clientVersion int, userID string) (ot.TransformedOperation, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if clientVersion > ds.version {
		return ot.TransformedOperation{}, &VersionError{
			Err: ErrVersionAhead, Key: ds.key, ClientVersion: clientVersion, ServerVersion: ds.version,
		}
	}
	if clientVersion < ds.version {
		// 保留的历史覆盖版本 (oldest, version]
		oldest := ds.version - len(ds.history)
		if clientVersion < oldest {
			return ot.TransformedOperation{}, &VersionError{
				Err: ErrHistoryTruncated, Key: ds.key, ClientVersion: clientVersion,
				ServerVersion: ds.version, OldestVersion: oldest,
			}
		}
		op = ot.Rebase(op, ds.history[clientVersion-oldest:])
	}

	if err := ds.buf.Apply(op); err != nil {
		return ot.TransformedOperation{}, err
	}

	now := e.opts.Now()
	ds.version++
	applied := ot.TransformedOperation{
		EditOperation: op,
		OperationID:   uuid.NewString(),
		Version:       ds.version,
		BaseVersion:   clientVersion,
		UserID:        userID,
		Timestamp:     now,
	}
	ds.history = append(ds.history, applied)
	if over := len(ds.history) - e.opts.HistoryLimit; over > 0 {
		ds.history = append([]ot.TransformedOperation(nil), ds.history[over:]...)
	}
	ds.lastModified = now
	return applied, nil
}

// loadOrInit 只在 key 的临界区内调用：缓存 -> 数据库 -> 空文档
func (e *Engine) loadOrInit(ctx context.Context, key DocKey) *docState {
	now := e.opts.Now()
	if ds := e.docs.get(key); ds != nil {
		ds.touch(now)
		return ds
	}

	var ds *docState
	if snap, history, ok := e.cache.LoadDocument(ctx, key.String()); ok {
		ds = newDocState(key, snap.Content, snap.Version, e.usableHistory(key, snap.Version, history), snap.LastModified)
		ds.touch(now)
		e.log.Info("document restored from cache",
			zap.Stringer("doc", key), zap.Int("version", snap.Version), zap.Int("history", len(ds.history)))
	} else {
		content, err := e.persist.LoadInitialContent(ctx, key.EntityID, key.Field)
		if err != nil {
			// 降级为空文档，后续编辑照常进行
			e.log.Error("load initial content failed", zap.Stringer("doc", key), zap.Error(err))
			content = ""
		}
		ds = newDocState(key, content, 0, nil, now)
	}
	e.docs.put(ds)
	return ds
}

// usableHistory 缓存中的历史必须是以 version 结尾的连续版本，否则整段丢弃
// 丢弃后落后的客户端会收到 HISTORY_TRUNCATED 并全量同步
func (e *Engine) usableHistory(key DocKey, version int, history []ot.TransformedOperation) []ot.TransformedOperation {
	if over := len(history) - e.opts.HistoryLimit; over > 0 {
		history = history[over:]
	}
	for i, op := range history {
		if op.Version != version-len(history)+1+i {
			e.log.Warn("cached history is not contiguous, dropping it",
				zap.Stringer("doc", key), zap.Int("version", version))
			return nil
		}
	}
	return history
}

func (e *Engine) saveSnapshot(ds *docState) {
	ds.mu.RLock()
	snap := cache.Snapshot{Content: ds.buf.String(), Version: ds.version, LastModified: ds.lastModified}
	history := append([]ot.TransformedOperation(nil), ds.history...)
	ds.mu.RUnlock()
	e.cache.SaveDocument(ds.key.String(), snap, history)
}

func (e *Engine) publishEditing(ds *docState) {
	ds.mu.RLock()
	rec := cache.EditingRecord{Collaborators: ds.collaboratorsLocked(), Version: ds.version, UpdatedAt: e.opts.Now()}
	ds.mu.RUnlock()
	e.cache.PublishEditing(ds.key.String(), rec)
}

func (e *Engine) publish(evt DocOpEvent) {
	if e.opts.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.PublishTimeout)
	defer cancel()
	if err := e.opts.Publisher.Enqueue(ctx, evt); err != nil {
		e.log.Warn("publish event failed", zap.String("doc", evt.DocKey), zap.String("type", evt.EventType), zap.Error(err))
	}
}

// GetDocumentState 仅返回本进程内的活跃文档，不存在时返回 nil
func (e *Engine) GetDocumentState(ctx context.Context, entityID, field string) *DocumentState {
	ds := e.docs.get(NewDocKey(entityID, field))
	if ds == nil {
		return nil
	}
	st := ds.snapshot()
	return &st
}

// GetCollaborators 先查内存，没有再读会话层缓存（其他进程发布的记录）
func (e *Engine) GetCollaborators(ctx context.Context, entityID, field string) []string {
	key := NewDocKey(entityID, field)
	if ds := e.docs.get(key); ds != nil {
		return ds.collaboratorList()
	}
	if rec, ok := e.cache.Collaborators(ctx, key.String()); ok {
		return rec.Collaborators
	}
	return []string{}
}

// GetOperationHistory 最近 limit 条（默认 50），旧的在前
func (e *Engine) GetOperationHistory(ctx context.Context, entityID, field string, limit int) []ot.TransformedOperation {
	if limit <= 0 {
		limit = DefaultHistoryPage
	}
	ds := e.docs.get(NewDocKey(entityID, field))
	if ds == nil {
		return []ot.TransformedOperation{}
	}
	return ds.recentHistory(limit)
}

// ActiveDocuments 本进程内活跃文档数
func (e *Engine) ActiveDocuments() int {
	return e.docs.len()
}
