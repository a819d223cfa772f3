package collab

import (
	"context"
	"errors"
	"fmt"
)

const DefaultMaxSemaphore = 100

var (
	ErrSemaphoreTimeout     = errors.New("semaphore acquire timeout")
	ErrSemaphoreNotAcquired = errors.New("semaphore is not acquired")
)

// SemaphoreControl 有界信号量，限制同时占用某类资源（Kafka 发送、引擎里排队的提交）的数量
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = DefaultMaxSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSemaphoreTimeout, ctx.Err())
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrSemaphoreNotAcquired
	}
}

// InUse 当前被占用的数量
func (s *SemaphoreControl) InUse() int { return len(s.ch) }
