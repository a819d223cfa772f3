package collab

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// 文档键的状态机：ABSENT -> ACTIVE（>=1 个协作者）-> ABSENT
// 加入/离开与编辑走同一条队列，彼此不会交错

// StartEditing 确保文档已加载，加入协作者并发布会话记录
func (e *Engine) StartEditing(ctx context.Context, userID, entityID, field string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if userID == "" {
		return ErrInvalidUser
	}
	key := NewDocKey(entityID, field)
	return e.queue.Do(ctx, key, func(ctx context.Context) error {
		ds := e.loadOrInit(ctx, key)
		n := ds.addCollaborator(userID)
		e.publishEditing(ds)
		e.log.Info("start editing", zap.Stringer("doc", key), zap.String("user", userID), zap.Int("collaborators", n))
		return nil
	})
}

// StopEditing 移除协作者；最后一个人离开时落盘并清理内存与缓存
func (e *Engine) StopEditing(ctx context.Context, userID, entityID, field string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	key := NewDocKey(entityID, field)
	return e.queue.Do(ctx, key, func(ctx context.Context) error {
		ds := e.docs.get(key)
		if ds == nil {
			return nil
		}
		n := ds.removeCollaborator(userID)
		e.log.Info("stop editing", zap.Stringer("doc", key), zap.String("user", userID), zap.Int("collaborators", n))
		if n > 0 {
			e.publishEditing(ds)
			return nil
		}
		e.flush(ctx, ds, true)
		return nil
	})
}

// Shutdown 落盘所有活跃文档；缓存里的快照保留，供接管的进程恢复
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closed.Store(true)
	var errs []error
	for _, key := range e.docs.keys() {
		err := e.queue.Do(ctx, key, func(ctx context.Context) error {
			if ds := e.docs.get(key); ds != nil {
				e.flush(ctx, ds, false)
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Info("collab engine shut down", zap.Int("remaining", e.docs.len()))
	return errors.Join(errs...)
}

// flush 只在 key 的临界区内调用
// 落盘失败时只丢弃内存状态，不清理缓存：下一次加载还能从缓存恢复最新内容
func (e *Engine) flush(ctx context.Context, ds *docState, evict bool) {
	st := ds.snapshot()
	key := ds.key

	saveErr := e.persist.SaveFinalContent(ctx, key.EntityID, key.Field, st.Content)
	if saveErr != nil {
		e.log.Error("save final content failed, keeping cached snapshot",
			zap.Stringer("doc", key), zap.Int("version", st.Version), zap.Error(saveErr))
	}
	if e.opts.Archiver != nil {
		if err := e.opts.Archiver.SaveDocumentSnapshot(ctx, key.String(), st.Version, st.Content); err != nil {
			e.log.Warn("archive snapshot failed", zap.Stringer("doc", key), zap.Error(err))
		}
	}

	e.docs.remove(key)

	if evict && saveErr == nil {
		if err := e.cache.Evict(ctx, key.String()); err != nil {
			e.log.Warn("evict cache failed", zap.Stringer("doc", key), zap.Error(err))
		}
	}

	if saveErr == nil {
		e.publish(DocOpEvent{
			EventType: EventDocumentFlushed,
			DocKey:    key.String(),
			EntityID:  key.EntityID,
			Field:     key.Field,
			Version:   st.Version,
			Content:   st.Content,
			At:        e.opts.Now(),
		})
	}
	e.log.Info("document flushed", zap.Stringer("doc", key), zap.Int("version", st.Version), zap.Bool("evicted", evict && saveErr == nil))
}
