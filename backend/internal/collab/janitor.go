package collab

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// 只通过 REST 提交操作、从未开始会话的文档不会走到"最后一个人离开"，
// 由这里定期落盘并移出内存

// SweepIdle 落盘并清理所有空闲文档，返回清理的数量
func (e *Engine) SweepIdle(ctx context.Context) int {
	if e.closed.Load() {
		return 0
	}
	swept := 0
	for _, key := range e.docs.keys() {
		if ds := e.docs.get(key); ds == nil || !ds.idle(e.opts.Now(), e.opts.IdleTimeout) {
			continue
		}
		err := e.queue.Do(ctx, key, func(ctx context.Context) error {
			// 排队期间可能有人加入或编辑，进入临界区后重新判断
			ds := e.docs.get(key)
			if ds == nil || !ds.idle(e.opts.Now(), e.opts.IdleTimeout) {
				return nil
			}
			e.flush(ctx, ds, true)
			swept++
			return nil
		})
		if err != nil {
			e.log.Warn("idle sweep skipped document", zap.Stringer("doc", key), zap.Error(err))
		}
	}
	return swept
}

// RunIdleSweeper 每隔 interval 清理一次，直到 ctx 结束
func (e *Engine) RunIdleSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.SweepIdle(ctx); n > 0 {
				e.log.Info("idle documents flushed", zap.Int("count", n), zap.Int("active", e.docs.len()))
			}
		}
	}
}
