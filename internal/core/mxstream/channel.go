package mxstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/util/syncx"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/interfaces"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

var _ interfaces.MuxedChannel = (*Channel)(nil)

// Channel 多路复用会话中的一个逻辑双工字节流
//
// 通道由提议方分配 ID，经历 提议 -> 接受 -> 释放，或 提议 -> 拒绝/撤销。
// 默认使用内部管道：Read/Write（或 Input/Output）面向调用方，
// 出站中继从内部管道读取并在窗口允许时发送 Content 帧。
// 使用 ExistingPipe 时数据直接在调用方的管道上进出。
type Channel struct {
	session        *Session
	id             uint32
	offeredLocally bool
	offer          OfferParameters

	logger atomic.Pointer[slog.Logger]

	acceptance     *syncx.Future[AcceptanceParameters]
	optionsApplied *syncx.Future[struct{}]

	// recvMu 串行化入站写入（会话读循环）与接收路径切换
	recvMu sync.Mutex

	// mu 只保护窗口计数和管道指针
	mu                 sync.Mutex
	disposed           bool
	remoteWindowSize   int64 // 未知时为 -1
	remoteWindowFilled int64
	localWindowSize    int64
	localWindowFilled  int64
	processed          int64 // 已消费但尚未确认的字节
	inPipe             *pipe.Pipe
	receive            receivePath
	channelIO          pipe.Duplex // ExistingPipe 模式下为 nil
	stream             *pipe.Stream
	transmitReader     pipe.Reader
	existingPipe       bool
	relayDone          chan struct{} // 中继启动前为 nil
	remoteWritingDone  bool          // 对端已发送 ContentWritingCompleted
	err                error

	windowAvailable        *syncx.Event
	receiveWriterCompleted *syncx.Event
	remotelyTerminated     atomic.Bool
	completion             chan struct{}
}

// newChannel 创建处于提议状态的通道
func newChannel(s *Session, id uint32, offeredLocally bool, offer OfferParameters) *Channel {
	c := &Channel{
		session:                s,
		id:                     id,
		offeredLocally:         offeredLocally,
		offer:                  offer,
		acceptance:             syncx.NewFuture[AcceptanceParameters](),
		optionsApplied:         syncx.NewFuture[struct{}](),
		remoteWindowSize:       -1,
		windowAvailable:        syncx.NewEvent(true),
		receiveWriterCompleted: syncx.NewEvent(false),
		completion:             make(chan struct{}),
	}

	if offeredLocally {
		// 提议中携带的是本端接收窗口
		c.localWindowSize = offer.RemoteWindowSize
	} else {
		c.remoteWindowSize = offer.RemoteWindowSize
	}
	if !s.windowed() {
		c.localWindowSize = math.MaxInt64
		if !offeredLocally {
			c.remoteWindowSize = math.MaxInt64
		}
	}

	c.logger.Store(s.logger.With("channel", id, "name", offer.Name))
	return c
}

// ID 返回通道 ID
func (c *Channel) ID() uint32 {
	return c.id
}

// Name 返回通道名称，匿名通道为空
func (c *Channel) Name() string {
	return c.offer.Name
}

// OfferedLocally 返回通道是否由本端提议
func (c *Channel) OfferedLocally() bool {
	return c.offeredLocally
}

// Acceptance 等待提议结果
//
// 被拒绝、撤销或通道释放时返回错误。
func (c *Channel) Acceptance(ctx context.Context) (AcceptanceParameters, error) {
	return c.acceptance.Wait(ctx)
}

// IsAccepted 返回提议是否已被接受
func (c *Channel) IsAccepted() bool {
	return c.acceptance.State() == syncx.FutureResolved
}

// Completion 在通道完全结束后关闭
func (c *Channel) Completion() <-chan struct{} {
	return c.completion
}

// Err 返回导致通道释放的错误，正常关闭时为 nil
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsDisposed 返回通道是否已释放
func (c *Channel) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// IsRemotelyTerminated 返回对端是否已终止通道
func (c *Channel) IsRemotelyTerminated() bool {
	return c.remotelyTerminated.Load()
}

// duplex 返回面向调用方的管道
func (c *Channel) duplex() (pipe.Duplex, *pipe.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.existingPipe {
		return nil, nil, ErrUnsupportedWithExistingPipe
	}
	if c.channelIO == nil {
		if c.disposed {
			return nil, nil, ErrChannelDisposed
		}
		return nil, nil, fmt.Errorf("%w: channel %d has not been accepted", ErrChannelNotFound, c.id)
	}
	return c.channelIO, c.stream, nil
}

// Input 返回接收方向的读端
func (c *Channel) Input() (pipe.Reader, error) {
	d, _, err := c.duplex()
	if err != nil {
		return nil, err
	}
	return d.Input(), nil
}

// Output 返回发送方向的写端
func (c *Channel) Output() (pipe.Writer, error) {
	d, _, err := c.duplex()
	if err != nil {
		return nil, err
	}
	return d.Output(), nil
}

// Read 实现 io.Reader
func (c *Channel) Read(p []byte) (int, error) {
	_, s, err := c.duplex()
	if err != nil {
		return 0, err
	}
	return s.Read(p)
}

// Write 实现 io.Writer
func (c *Channel) Write(p []byte) (int, error) {
	_, s, err := c.duplex()
	if err != nil {
		return 0, err
	}
	return s.Write(p)
}

// CloseWrite 结束发送方向，对端读到 EOF
func (c *Channel) CloseWrite() error {
	_, s, err := c.duplex()
	if err != nil {
		if errors.Is(err, ErrUnsupportedWithExistingPipe) {
			return err
		}
		return nil
	}
	return s.CloseWrite()
}

// Close 释放通道
//
// 可以重复调用。
func (c *Channel) Close() error {
	c.dispose(nil)
	return nil
}

// Accept 接受对端提议
//
// 提议已被接受、拒绝或撤销时返回 false。
func (c *Channel) Accept(opts *ChannelOptions) (bool, error) {
	if c.offeredLocally {
		return false, fmt.Errorf("%w: cannot accept a locally offered channel", ErrInvalidOptions)
	}
	ok, err := c.tryAcceptOffer(opts)
	if ok {
		c.session.dequeueOffer(c)
	}
	return ok, err
}

// Reject 拒绝对端提议
//
// 提议已被接受、拒绝或撤销时返回 false。
func (c *Channel) Reject() bool {
	if c.offeredLocally {
		return false
	}
	if !c.acceptance.TryCancel(ErrChannelRejected) {
		return false
	}
	c.session.dequeueOffer(c)
	c.dispose(nil)
	return true
}

// ============================================================================
//                              状态机
// ============================================================================

// tryAcceptOffer 接受对端提议
//
// 先发送 OfferAccepted，再应用选项并启动中继。
// 接受窗口为接收阈值减一：对端最多填满阈值减一字节，
// 会话读循环向接收管道 Flush 时永远不会被暂停。
func (c *Channel) tryAcceptOffer(opts *ChannelOptions) (bool, error) {
	if err := opts.validate(); err != nil {
		return false, err
	}

	window := c.session.advertisedWindow(opts.receivingWindow(c.session.opts.DefaultChannelReceivingWindowSize))
	params := AcceptanceParameters{RemoteWindowSize: window}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false, nil
	}
	if !c.acceptance.TryResolve(params) {
		c.mu.Unlock()
		return false, nil
	}
	if c.session.windowed() {
		c.localWindowSize = window
	}
	// 在锁内入队，保证 OfferAccepted 先于任何终止帧
	err := c.session.enqueue(newFrame(ControlOfferAccepted, c.id, params.Encode()), nil)
	c.mu.Unlock()

	if err != nil {
		c.dispose(err)
		return true, parseError(err)
	}

	c.log().Debug("接受通道提议", "window", window)
	c.applyOptions(opts)
	return true, nil
}

// onAccepted 记录对端的接受参数
func (c *Channel) onAccepted(params AcceptanceParameters) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acceptance.TryResolve(params) {
		return false
	}
	if c.session.windowed() {
		c.remoteWindowSize = params.RemoteWindowSize
	} else {
		c.remoteWindowSize = math.MaxInt64
	}
	return true
}

// onRemoteTerminated 对端终止通道
func (c *Channel) onRemoteTerminated(cause error) {
	c.remotelyTerminated.Store(true)
	if cause != nil {
		c.acceptance.TryCancel(cause)
	}
	c.windowAvailable.Set()
	c.dispose(cause)
}

// log 返回通道日志
func (c *Channel) log() *slog.Logger {
	return c.logger.Load()
}

// applyOptions 应用通道选项并启动出站中继
func (c *Channel) applyOptions(opts *ChannelOptions) {
	if opts == nil {
		opts = &ChannelOptions{}
	}
	c.logger.Store(c.session.channelLogger(c.id, c.offer.Name, opts))

	// recvMu 使迁移的开始与会话写入入站数据互斥
	c.recvMu.Lock()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.recvMu.Unlock()
		c.optionsApplied.TryCancel(ErrChannelDisposed)
		return
	}

	var m *migration
	switch {
	case opts.ExistingPipe != nil:
		c.existingPipe = true
		c.transmitReader = opts.ExistingPipe.Input()
		target := opts.ExistingPipe.Output()
		if c.inPipe != nil {
			// 提前到达的数据先转移到调用方管道
			m = c.startMigrationLocked(c.newWindowReader(c.inPipe.Reader()), target, receiveExternal)
		} else {
			c.receive = receivePath{mode: receiveExternal, writer: target}
		}

	case c.inPipe != nil && opts.InputPipeOptions != nil:
		// 提前到达的数据转移到按调用方参数创建的接收管道
		next := pipe.New(*opts.InputPipeOptions)
		m = c.startMigrationLocked(c.inPipe.Reader(), next.Writer(), receiveInternal)
		c.inPipe = next
		c.initOwnPipesLocked(opts)

	default:
		c.initOwnPipesLocked(opts)
	}

	relayDone := make(chan struct{})
	c.relayDone = relayDone
	reader := c.transmitReader
	remoteDone := c.remoteWritingDone
	c.mu.Unlock()
	c.recvMu.Unlock()

	if m != nil {
		go c.migrate(m)
	} else if remoteDone {
		c.receiveWriterCompleted.Set()
	}
	go c.runRelay(reader, relayDone)
	go c.autoClose(relayDone)
	c.optionsApplied.TryResolve(struct{}{})
}

// initOwnPipesLocked 创建内部管道，调用方持有 mu
func (c *Channel) initOwnPipesLocked(opts *ChannelOptions) {
	if c.inPipe == nil {
		inOpts := pipe.Options{}
		if opts.InputPipeOptions != nil {
			inOpts = *opts.InputPipeOptions
		}
		c.inPipe = pipe.New(inOpts)
		c.receive = receivePath{mode: receiveInternal, writer: c.inPipe.Writer()}
	}

	outOpts := pipe.DefaultOptions()
	if opts.OutputPipeOptions != nil {
		outOpts = *opts.OutputPipeOptions
	}
	out := pipe.New(outOpts)

	c.transmitReader = out.Reader()
	c.channelIO = pipe.NewDuplex(c.newWindowReader(c.inPipe.Reader()), out.Writer())
	c.stream = pipe.NewStream(c.channelIO)
}

// ============================================================================
//                              释放
// ============================================================================

// fault 因错误释放通道
func (c *Channel) fault(err error) {
	if c.IsDisposed() {
		return
	}
	c.log().Warn("通道故障", "error", err)
	c.dispose(err)
}

// dispose 释放通道，可重复调用
//
// 顺序：取消提议结果；标记释放；完成入站写端；完成出站方向；
// 释放窗口等待者；中继结束后完成通道并通知会话。
func (c *Channel) dispose(cause error) {
	cancelErr := cause
	if cancelErr == nil {
		cancelErr = ErrChannelDisposed
	}
	c.acceptance.TryCancel(cancelErr)
	c.optionsApplied.TryCancel(cancelErr)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	if cause != nil && c.err == nil {
		c.err = cause
	}
	recv := c.receive
	channelIO := c.channelIO
	transmit := c.transmitReader
	existing := c.existingPipe
	relayDone := c.relayDone
	c.mu.Unlock()

	// 会话不能再推送入站数据
	if recv.writer != nil {
		recv.writer.Complete(cause)
		recv.writer.CancelPendingFlush()
	}
	if m := recv.migration; m != nil {
		m.target.Complete(cause)
		m.target.CancelPendingFlush()
	}
	c.receiveWriterCompleted.Set()

	if existing {
		if transmit != nil {
			transmit.CancelPendingRead()
			transmit.Complete(nil)
		}
	} else if channelIO != nil {
		// 已写入的数据仍会被中继发送
		channelIO.Output().Complete(nil)
	}

	c.windowAvailable.Set()

	if relayDone == nil {
		c.finalize()
		return
	}
	go func() {
		<-relayDone
		c.finalize()
	}()
}

// finalize 完成通道并通知会话
func (c *Channel) finalize() {
	close(c.completion)
	c.log().Debug("通道已释放")
	c.session.onChannelDisposed(c)
}

// autoClose 两个方向都结束后自动释放
func (c *Channel) autoClose(relayDone <-chan struct{}) {
	<-c.receiveWriterCompleted.C()
	<-relayDone

	if c.IsDisposed() {
		return
	}
	c.log().Info("通道两个方向均已结束，自动关闭")
	c.dispose(nil)
}
