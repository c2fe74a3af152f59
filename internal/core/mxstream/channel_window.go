package mxstream

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/util/syncx"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

// ============================================================================
//                              入站路径
// ============================================================================

// receiveMode 入站数据的去向
type receiveMode int

const (
	// receiveInternal 写入通道内部管道（未应用选项前为临时管道）
	receiveInternal receiveMode = iota
	// receiveMigrating 临时管道中的数据正在转移
	receiveMigrating
	// receiveExternal 直接写入调用方提供的管道
	receiveExternal
)

// receivePath 当前的入站写端
type receivePath struct {
	mode      receiveMode
	writer    pipe.Writer
	migration *migration
}

// migration 把临时管道的数据转移到最终写端
type migration struct {
	src       pipe.Reader
	target    pipe.Writer
	finalMode receiveMode

	// complete 迁移前对端已结束写入，迁移结束后需要完成 target
	complete bool
	done     chan struct{}
}

// startMigrationLocked 开始迁移，调用方持有 recvMu 和 mu
//
// 临时写端在此完成，迁移在读完已缓冲的数据后结束；
// 期间到达的数据由 receiveWriter 等待迁移结束后写入 target。
func (c *Channel) startMigrationLocked(src pipe.Reader, target pipe.Writer, final receiveMode) *migration {
	m := &migration{
		src:       src,
		target:    target,
		finalMode: final,
		complete:  c.remoteWritingDone,
		done:      make(chan struct{}),
	}
	temp := c.receive.writer
	c.receive = receivePath{mode: receiveMigrating, writer: temp, migration: m}
	if temp != nil && !m.complete {
		temp.Complete(nil)
	}
	return m
}

// migrate 执行迁移
//
// 状态切换、确认和完成都在关闭 done 之前进行，
// 等待中的入站写入看到的总是最终写端。
func (c *Channel) migrate(m *migration) {
	err := pipe.Link(c.session.ctx, m.src, m.target, false)

	c.mu.Lock()
	if c.receive.migration == m {
		c.receive = receivePath{mode: m.finalMode, writer: m.target}
	}
	c.mu.Unlock()

	if err == nil {
		if m.finalMode == receiveExternal {
			c.onProcessed(0, true)
		}
		if m.complete {
			m.target.Complete(nil)
			c.receiveWriterCompleted.Set()
		}
	}
	close(m.done)

	if err != nil {
		c.fault(fmt.Errorf("migrate inbound data: %w", err))
		return
	}
	c.log().Debug("入站数据迁移完成")
}

// receiveWriter 返回当前入站写端，调用方持有 recvMu
//
// 未应用选项时惰性创建临时管道；迁移中则等待迁移结束。
// external 为 true 表示写端是调用方的管道。
func (c *Channel) receiveWriter(ctx context.Context) (w pipe.Writer, external bool, err error) {
	for {
		c.mu.Lock()
		if c.disposed {
			c.mu.Unlock()
			return nil, false, ErrChannelDisposed
		}
		switch c.receive.mode {
		case receiveInternal:
			if c.inPipe == nil {
				// 临时管道不暂停，由接收窗口限制大小
				c.inPipe = pipe.New(pipe.Options{})
				c.receive.writer = c.inPipe.Writer()
			}
			w = c.receive.writer
			c.mu.Unlock()
			return w, false, nil

		case receiveExternal:
			w = c.receive.writer
			c.mu.Unlock()
			return w, true, nil
		}

		m := c.receive.migration
		c.mu.Unlock()

		select {
		case <-m.done:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// onContent 处理 Content 帧，在会话读循环中调用
//
// 超出窗口的数据只使通道故障。payload 在返回后会被复用。
func (c *Channel) onContent(payload []byte) error {
	switch c.acceptance.State() {
	case syncx.FuturePending:
		return fmt.Errorf("%w: content on channel %d before acceptance", ErrProtocolViolation, c.id)
	case syncx.FutureCanceled:
		// 本端已撤销提议，对端可能在收到撤销前接受并发送
		return nil
	}

	n := int64(len(payload))
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	if c.session.windowed() && c.localWindowFilled+n > c.localWindowSize {
		filled, size := c.localWindowFilled, c.localWindowSize
		c.mu.Unlock()
		return fmt.Errorf("%w: %d bytes received with %d of %d filled", ErrWindowOverrun, n, filled, size)
	}
	c.localWindowFilled += n
	c.mu.Unlock()

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	w, external, err := c.receiveWriter(c.session.ctx)
	if err != nil {
		// 已释放的通道丢弃数据
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		c.log().Debug("丢弃入站数据", "bytes", n, "error", err)
		return nil
	}
	if _, err := w.Flush(c.session.ctx); err != nil {
		c.log().Debug("入站数据刷新失败", "error", err)
		return nil
	}
	if external {
		// 调用方管道接收后立即确认
		c.onProcessed(n, true)
	}
	return nil
}

// onContentWritingCompleted 对端不再写入
func (c *Channel) onContentWritingCompleted() {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	w, _, err := c.receiveWriter(c.session.ctx)
	c.mu.Lock()
	c.remoteWritingDone = true
	// 应用选项前完成的是临时管道，由 applyOptions 或迁移置位事件
	applied := c.relayDone != nil
	c.mu.Unlock()
	if err != nil {
		c.receiveWriterCompleted.Set()
		return
	}
	w.Complete(nil)
	if applied {
		c.receiveWriterCompleted.Set()
	}
}

// ============================================================================
//                              窗口
// ============================================================================

// ackThreshold 累计确认阈值，调用方持有 mu
func (c *Channel) ackThresholdLocked() int64 {
	t := c.localWindowSize / 2
	if t < 1 {
		t = 1
	}
	if t > FramePayloadMaxLength {
		t = FramePayloadMaxLength
	}
	return t
}

// onProcessed 累计已消费字节，达到阈值或读端需要更多数据时发送 ContentProcessed
func (c *Channel) onProcessed(n int64, moreDataRequired bool) {
	if !c.session.windowed() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.processed += n
	if c.processed <= 0 || c.disposed || c.remotelyTerminated.Load() {
		return
	}
	if c.processed < c.ackThresholdLocked() && !moreDataRequired {
		return
	}

	ack := c.processed
	c.processed = 0
	c.localWindowFilled -= ack
	if c.localWindowFilled < 0 {
		c.localWindowFilled = 0
	}
	if err := c.session.enqueue(newFrame(ControlContentProcessed, c.id, encodeContentProcessed(ack)), nil); err != nil {
		c.log().Debug("发送处理确认失败", "error", err)
	}
}

// onContentProcessed 对端确认已处理 n 字节，释放发送窗口
func (c *Channel) onContentProcessed(n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > c.remoteWindowFilled {
		return fmt.Errorf("%w: %d bytes acknowledged with %d in flight", ErrWindowOverrun, n, c.remoteWindowFilled)
	}
	c.remoteWindowFilled -= n
	if c.remoteWindowFilled < c.remoteWindowSize {
		c.windowAvailable.Set()
	}
	return nil
}

// onTransmittingBytes 记录即将发送的字节，调用方持有 mu
//
// 超出窗口属于编程错误。
func (c *Channel) onTransmittingBytesLocked(n int64) {
	if c.remoteWindowFilled+n > c.remoteWindowSize {
		panic(fmt.Sprintf("mxstream: channel %d transmitting %d bytes with %d of %d filled",
			c.id, n, c.remoteWindowFilled, c.remoteWindowSize))
	}
	c.remoteWindowFilled += n
	if c.remoteWindowFilled == c.remoteWindowSize {
		c.windowAvailable.Reset()
	}
}

// windowReader 包装调用方读端，消费数据时驱动 ContentProcessed
type windowReader struct {
	c       *Channel
	r       pipe.Reader
	lastLen atomic.Int64
}

func (c *Channel) newWindowReader(r pipe.Reader) *windowReader {
	return &windowReader{c: c, r: r}
}

func (w *windowReader) Read(ctx context.Context) (pipe.ReadResult, error) {
	res, err := w.r.Read(ctx)
	if err == nil {
		w.lastLen.Store(int64(len(res.Buffer)))
	}
	return res, err
}

func (w *windowReader) AdvanceTo(consumed, examined int) error {
	if err := w.r.AdvanceTo(consumed, examined); err != nil {
		return err
	}
	more := examined != consumed && int64(examined) == w.lastLen.Load()
	w.c.onProcessed(int64(consumed), more)
	return nil
}

func (w *windowReader) CancelPendingRead() {
	w.r.CancelPendingRead()
}

func (w *windowReader) Complete(err error) {
	w.r.Complete(err)
}
