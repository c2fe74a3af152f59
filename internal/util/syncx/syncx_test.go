package syncx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Future 测试
// ============================================================================

func TestFuture_ResolveOnce(t *testing.T) {
	f := NewFuture[int]()
	assert.Equal(t, FuturePending, f.State())

	assert.True(t, f.TryResolve(1))
	assert.False(t, f.TryResolve(2))
	assert.False(t, f.TryCancel(nil))

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, FutureResolved, f.State())
}

func TestFuture_CancelOnce(t *testing.T) {
	f := NewFuture[string]()
	reason := errors.New("rejected")

	assert.True(t, f.TryCancel(reason))
	assert.False(t, f.TryResolve("late"))

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, reason)
	assert.Equal(t, FutureCanceled, f.State())
}

func TestFuture_CancelDefaultReason(t *testing.T) {
	f := NewFuture[int]()
	f.TryCancel(nil)

	_, err := f.Result()
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestFuture_WaitContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, FuturePending, f.State())
}

// TestFuture_ConcurrentResolve 并发决议只有一个成功
func TestFuture_ConcurrentResolve(t *testing.T) {
	f := NewFuture[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if f.TryResolve(i) {
					wins.Add(1)
				}
			} else if f.TryCancel(nil) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

// ============================================================================
// Event 测试
// ============================================================================

func TestEvent_SetReset(t *testing.T) {
	e := NewEvent(true)
	assert.True(t, e.IsSet())
	require.NoError(t, e.Wait(context.Background()))

	e.Reset()
	assert.False(t, e.IsSet())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Wait(ctx), context.DeadlineExceeded)
}

func TestEvent_ReleasesWaiters(t *testing.T) {
	e := NewEvent(false)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Wait(context.Background())
		}()
	}

	time.Sleep(10 * time.Millisecond)
	e.Set()
	e.Set() // 幂等

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters were not released")
	}
}
