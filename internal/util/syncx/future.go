// Package syncx 提供通道生命周期使用的同步原语
//
//   - Future：一次性赋值、多读者的结果单元（pending / resolved / canceled 三态）
//   - Event：可重置的手动事件，用于窗口可用等信号
package syncx

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled Future 被取消且未提供原因时返回
var ErrCanceled = errors.New("future canceled")

// FutureState Future 的状态
type FutureState int32

const (
	// FuturePending 尚未决议
	FuturePending FutureState = iota
	// FutureResolved 已成功赋值
	FutureResolved
	// FutureCanceled 已取消
	FutureCanceled
)

// String 返回状态名称
func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureResolved:
		return "resolved"
	case FutureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Future 一次性决议的结果单元
//
// 只有第一次 TryResolve / TryCancel 生效，之后的调用返回 false。
type Future[T any] struct {
	mu    sync.Mutex
	state FutureState
	value T
	err   error
	done  chan struct{}
}

// NewFuture 创建处于 pending 状态的 Future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// TryResolve 以 v 决议，已决议时返回 false
func (f *Future[T]) TryResolve(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FuturePending {
		return false
	}
	f.state = FutureResolved
	f.value = v
	close(f.done)
	return true
}

// TryCancel 以 err 取消，已决议时返回 false
func (f *Future[T]) TryCancel(err error) bool {
	if err == nil {
		err = ErrCanceled
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FuturePending {
		return false
	}
	f.state = FutureCanceled
	f.err = err
	close(f.done)
	return true
}

// Done 在 Future 决议（成功或取消）后关闭
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// State 返回当前状态
func (f *Future[T]) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result 非阻塞地返回结果
//
// pending 时返回零值和 nil 错误，调用方应先检查 State。
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait 等待决议或 ctx 结束
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
