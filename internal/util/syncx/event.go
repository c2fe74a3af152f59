package syncx

import (
	"context"
	"sync"
)

// Event 手动重置事件
//
// Set 之后所有等待者被释放，直到 Reset 为止新的 Wait 立即返回。
type Event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewEvent 创建事件，initial 为初始状态
func NewEvent(initial bool) *Event {
	e := &Event{ch: make(chan struct{})}
	if initial {
		e.set = true
		close(e.ch)
	}
	return e
}

// Set 置位并释放所有等待者
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Reset 复位
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet 返回是否处于置位状态
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// C 返回当前代的信号通道，置位时关闭
func (e *Event) C() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Wait 等待置位或 ctx 结束
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
