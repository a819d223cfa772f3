package cache

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"collabEngine/backend/internal/ot"
)

// Snapshot 文档快照（慢速层）
type Snapshot struct {
	Content      string    `json:"content"`
	Version      int       `json:"version"`
	LastModified time.Time `json:"lastModified"`
}

// EditingRecord 编辑会话记录（快速层），供其他进程/组件快速读取在线协作者
type EditingRecord struct {
	Collaborators []string  `json:"collaborators"`
	Version       int       `json:"version"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type BridgeOptions struct {
	SessionTTL   time.Duration
	DocumentTTL  time.Duration
	Jitter       time.Duration
	Workers      int // 写分区数，同一个 docKey 固定落在同一分区
	QueueSize    int // 每个分区的队列长度
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o *BridgeOptions) withDefaults() {
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.DocumentTTL <= 0 {
		o.DocumentTTL = DefaultDocumentTTL
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 300 * time.Millisecond
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = time.Second
	}
}

type cacheEntry struct {
	key   string
	layer Layer
	value []byte // nil 表示删除
	ttl   time.Duration
}

type writeTask struct {
	docKey  string
	entries []cacheEntry
	done    chan error // 非 nil 时由 worker 回传结果
}

// Bridge 引擎与外部缓存之间的适配层
// - 读：miss 或出错都当作"没有缓存"，不会向上返回错误
// - 写：异步写回（write-behind），失败只记日志；按 docKey 分区保证同一文档的写入顺序
type Bridge struct {
	store Store
	log   *zap.Logger
	opts  BridgeOptions
	sf    singleflight.Group

	mu     sync.RWMutex
	closed bool
	queues []chan writeTask
	wg     sync.WaitGroup
}

func NewBridge(store Store, log *zap.Logger, opts BridgeOptions) *Bridge {
	opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{store: store, log: log, opts: opts, queues: make([]chan writeTask, opts.Workers)}
	for i := range b.queues {
		b.queues[i] = make(chan writeTask, opts.QueueSize)
		b.wg.Add(1)
		go b.workerLoop(i, b.queues[i])
	}
	return b
}

// LoadDocument 读取快照与历史；调用方已按 docKey 串行，这里不做合并
func (b *Bridge) LoadDocument(ctx context.Context, docKey string) (*Snapshot, []ot.TransformedOperation, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.ReadTimeout)
	defer cancel()

	var snap Snapshot
	if !b.getJSON(ctx, stateKey(docKey), LayerDocument, &snap) {
		return nil, nil, false
	}
	var history []ot.TransformedOperation
	// 历史缺失时仍可恢复内容，只是落后的客户端需要重新同步
	b.getJSON(ctx, historyKey(docKey), LayerDocument, &history)
	return &snap, history, true
}

// Collaborators 读取会话层记录的协作者
// 同一 docKey 的并发读取合并为一次（singleflight），每个调用方拿到独立的副本
func (b *Bridge) Collaborators(ctx context.Context, docKey string) (*EditingRecord, bool) {
	v, _, _ := b.sf.Do(editingKey(docKey), func() (interface{}, error) {
		// 结果被多个调用方共享，不跟随第一个调用方取消
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.ReadTimeout)
		defer cancel()
		var rec EditingRecord
		if !b.getJSON(ctx, editingKey(docKey), LayerSession, &rec) {
			return nil, nil
		}
		return rec, nil
	})
	rec, ok := v.(EditingRecord)
	if !ok {
		return nil, false
	}
	rec.Collaborators = append([]string(nil), rec.Collaborators...)
	return &rec, true
}

// SaveDocument 异步写入快照与截断后的历史
func (b *Bridge) SaveDocument(docKey string, snap Snapshot, history []ot.TransformedOperation) {
	sb, err := json.Marshal(snap)
	if err != nil {
		b.log.Error("marshal snapshot failed", zap.String("doc", docKey), zap.Error(err))
		return
	}
	hb, err := json.Marshal(history)
	if err != nil {
		b.log.Error("marshal history failed", zap.String("doc", docKey), zap.Error(err))
		return
	}
	ttl := jitteredTTL(b.opts.DocumentTTL, b.opts.Jitter)
	b.enqueue(writeTask{docKey: docKey, entries: []cacheEntry{
		{key: stateKey(docKey), layer: LayerDocument, value: sb, ttl: ttl},
		{key: historyKey(docKey), layer: LayerDocument, value: hb, ttl: ttl},
	}})
}

// PublishEditing 异步发布协作者集合与版本
func (b *Bridge) PublishEditing(docKey string, rec EditingRecord) {
	if rec.Collaborators == nil {
		rec.Collaborators = []string{}
	}
	rb, err := json.Marshal(rec)
	if err != nil {
		b.log.Error("marshal editing record failed", zap.String("doc", docKey), zap.Error(err))
		return
	}
	b.enqueue(writeTask{docKey: docKey, entries: []cacheEntry{
		{key: editingKey(docKey), layer: LayerSession, value: rb, ttl: b.opts.SessionTTL},
	}})
}

// Evict 删除文档的全部缓存键；排在该文档已入队的写入之后执行，并等待完成
// 返回的错误只用于记录，调用方不应据此中断流程
func (b *Bridge) Evict(ctx context.Context, docKey string) error {
	done := make(chan error, 1)
	task := writeTask{docKey: docKey, done: done, entries: []cacheEntry{
		{key: stateKey(docKey), layer: LayerDocument},
		{key: historyKey(docKey), layer: LayerDocument},
		{key: editingKey(docKey), layer: LayerSession},
	}}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("cache bridge closed")
	}
	select {
	case b.partition(docKey) <- task:
		b.mu.RUnlock()
	case <-ctx.Done():
		b.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新写入，等待队列中已有的写入完成
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, q := range b.queues {
			close(q)
		}
	}
	b.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) enqueue(task writeTask) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Warn("cache bridge closed, drop write", zap.String("doc", task.docKey))
		return
	}
	select {
	case b.partition(task.docKey) <- task:
	default:
		// 队列满了直接降级丢弃，内存里的状态仍是权威
		b.log.Warn("cache write queue full, drop write", zap.String("doc", task.docKey))
	}
}

func (b *Bridge) partition(docKey string) chan writeTask {
	h := fnv.New32a()
	_, _ = h.Write([]byte(docKey))
	return b.queues[h.Sum32()%uint32(len(b.queues))]
}

func (b *Bridge) workerLoop(workerID int, queue chan writeTask) {
	defer b.wg.Done()
	for task := range queue {
		err := b.write(task)
		if err != nil {
			b.log.Warn("cache write failed",
				zap.String("doc", task.docKey), zap.Int("worker", workerID), zap.Error(err))
		}
		if task.done != nil {
			task.done <- err
		}
	}
}

func (b *Bridge) write(task writeTask) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.opts.WriteTimeout)
	defer cancel()
	var errs []error
	for _, e := range task.entries {
		var err error
		if e.value == nil {
			err = b.store.Delete(ctx, e.key, e.layer)
		} else {
			err = b.store.Set(ctx, e.key, e.value, e.layer, e.ttl)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) getJSON(ctx context.Context, key string, layer Layer, dst any) bool {
	raw, err := b.store.Get(ctx, key, layer)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			b.log.Warn("cache read failed", zap.String("key", key), zap.Stringer("layer", layer), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		b.log.Warn("cache value corrupted", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
