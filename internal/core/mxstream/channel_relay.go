package mxstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

// runRelay 运行出站中继，结束时关闭 relayDone
func (c *Channel) runRelay(r pipe.Reader, relayDone chan struct{}) {
	defer close(relayDone)

	if err := c.processOutbound(r); err != nil {
		c.fault(fmt.Errorf("outbound relay: %w", err))
	}
}

// processOutbound 把出站管道的数据按窗口切成 Content 帧发送
//
// 每帧写入传输后才推进读端，出站管道的暂停阈值因此反映真实的发送进度。
func (c *Channel) processOutbound(r pipe.Reader) (err error) {
	defer func() {
		r.Complete(err)
		c.session.onChannelWritingCompleted(c)
	}()

	ctx := c.session.ctx
	if _, aerr := c.acceptance.Wait(ctx); aerr != nil {
		// 被拒绝、撤销或会话结束，没有数据可以发送
		return nil
	}

	for {
		res, rerr := r.Read(ctx)
		if rerr != nil {
			if errors.Is(rerr, pipe.ErrReaderCompleted) || errors.Is(rerr, context.Canceled) {
				return nil
			}
			return rerr
		}
		if res.IsCanceled {
			return nil
		}

		buffered := len(res.Buffer)
		if buffered == 0 {
			if res.IsCompleted {
				return nil
			}
			if aerr := r.AdvanceTo(0, 0); aerr != nil {
				return aerr
			}
			continue
		}

		remaining, ok := c.waitForWindow(ctx)
		if !ok {
			return nil
		}

		n := int64(buffered)
		if n > remaining {
			n = remaining
		}
		if n > FramePayloadMaxLength {
			n = FramePayloadMaxLength
		}

		c.mu.Lock()
		c.onTransmittingBytesLocked(n)
		c.mu.Unlock()

		// 帧负载在写出前必须保持有效，读端直到 AdvanceTo 才会释放
		if serr := c.session.sendContent(c, res.Buffer[:n]); serr != nil {
			return parseError(serr)
		}
		if aerr := r.AdvanceTo(int(n), int(n)); aerr != nil {
			if errors.Is(aerr, pipe.ErrReaderCompleted) {
				return nil
			}
			return aerr
		}

		if res.IsCompleted && int(n) == buffered {
			return nil
		}
	}
}

// waitForWindow 等待对端窗口有空间，返回可发送的字节数
//
// 对端终止、会话结束或通道在窗口已满时被释放，返回 false。
func (c *Channel) waitForWindow(ctx context.Context) (int64, bool) {
	for {
		if err := c.windowAvailable.Wait(ctx); err != nil {
			return 0, false
		}
		if c.remotelyTerminated.Load() {
			return 0, false
		}

		c.mu.Lock()
		remaining := c.remoteWindowSize - c.remoteWindowFilled
		disposed := c.disposed
		c.mu.Unlock()
		if remaining > 0 {
			return remaining, true
		}
		if disposed {
			// 窗口已满且通道已释放，不再等待确认
			return 0, false
		}

		c.windowAvailable.Reset()
		c.mu.Lock()
		if c.remoteWindowFilled < c.remoteWindowSize || c.disposed {
			c.windowAvailable.Set()
		}
		c.mu.Unlock()
	}
}
