package collab

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// keyedQueue 每个文档键一条 FIFO 队列
//
// 每次调用创建自己的 done 通道并替换为该键的队尾，然后等待前一个调用的 done 关闭。
// 同一个键上的调用严格按进入 Do 的顺序串行执行；不同键之间互不阻塞。
// 队列为空时键会被删除，不会为每个文档常驻一把锁。
type keyedQueue struct {
	mu    sync.Mutex
	tails map[DocKey]chan struct{}

	// waitTimeout 等待前序调用的最长时间（调用方 ctx 更早到期时以 ctx 为准）
	waitTimeout time.Duration
	// holdTimeout 临界区内阻塞 I/O 的最长时间；通过 fn 的 ctx 生效，fn 不理会 ctx 时约束不住
	holdTimeout time.Duration
}

func newKeyedQueue(waitTimeout, holdTimeout time.Duration) *keyedQueue {
	return &keyedQueue{
		tails:       make(map[DocKey]chan struct{}),
		waitTimeout: waitTimeout,
		holdTimeout: holdTimeout,
	}
}

// Do 在 key 的临界区内执行 fn
// fn 收到的 ctx 不随调用方取消（避免落盘做到一半被打断），但受 holdTimeout 约束
// fn 必须在 ctx 到期后返回，队列才会继续向前
func (q *keyedQueue) Do(ctx context.Context, key DocKey, fn func(ctx context.Context) error) error {
	q.mu.Lock()
	prev := q.tails[key]
	done := make(chan struct{})
	q.tails[key] = done
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
		close(done)
	}

	if prev != nil {
		waitCtx := ctx
		if q.waitTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, q.waitTimeout)
			defer cancel()
		}
		select {
		case <-prev:
		case <-waitCtx.Done():
			// 自己放弃了，但必须等前序完成后再放行后继，否则会破坏串行
			go func() {
				<-prev
				release()
			}()
			return fmt.Errorf("%w: doc=%s: %v", ErrQueueTimeout, key, waitCtx.Err())
		}
	}
	defer release()

	holdCtx := context.WithoutCancel(ctx)
	if q.holdTimeout > 0 {
		var cancel context.CancelFunc
		holdCtx, cancel = context.WithTimeout(holdCtx, q.holdTimeout)
		defer cancel()
	}
	return fn(holdCtx)
}

// pending 当前有排队或执行中调用的键数量
func (q *keyedQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
