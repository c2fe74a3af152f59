package mxstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/metrics"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/interfaces"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/log"
)

var logger = log.Logger("core/mxstream")

var _ interfaces.MuxedSession = (*Session)(nil)

// ChannelOfferEvent 对端提议通道的通知
type ChannelOfferEvent struct {
	ID   uint32
	Name string

	// IsAccepted 提议已交给等待中的 AcceptChannelByName
	IsAccepted bool
}

// acceptResult AcceptChannelByName 的结果
type acceptResult struct {
	ch  *Channel
	err error
}

// acceptWaiter 按名称等待提议的调用方
type acceptWaiter struct {
	opts   *ChannelOptions
	result chan acceptResult
}

// Session 在一个双工传输上复用多个通道
//
// Session 独占传输：一个读循环按顺序分发帧，一个写循环串行写出帧队列。
type Session struct {
	id       uuid.UUID
	conn     io.ReadWriteCloser
	opts     Options
	logger   *slog.Logger
	version  int
	oddIDs   bool
	reporter metrics.Reporter
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	channelsMu    sync.RWMutex
	channels      map[uint32]*Channel
	offeredByName map[string][]*Channel
	acceptWaiters map[string][]*acceptWaiter
	nextID        uint32

	offerEvents   chan ChannelOfferEvent
	droppedOffers atomic.Int64

	queueMu      sync.Mutex
	queue        []*outFrame
	queueSignal  chan struct{}
	writerClosed bool

	closing   atomic.Bool
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	closeErr  error
	done      chan struct{}
	loops     sync.WaitGroup
}

// NewSession 在 conn 上完成握手并启动会话
//
// ctx 只约束握手，会话之后的生命周期由 Close 或传输错误结束。
// 握手失败时 conn 被关闭。
func NewSession(ctx context.Context, conn io.ReadWriteCloser, opts Options) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.OfferEventBuffer == 0 {
		opts.OfferEventBuffer = DefaultOfferEventBuffer
	}

	hs, err := handshake(ctx, conn, opts.ProtocolMajorVersion)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Session{
		id:            hs.nonce,
		conn:          conn,
		opts:          opts,
		version:       opts.ProtocolMajorVersion,
		oddIDs:        hs.oddIDs,
		reporter:      opts.Metrics,
		channels:      make(map[uint32]*Channel),
		offeredByName: make(map[string][]*Channel),
		acceptWaiters: make(map[string][]*acceptWaiter),
		offerEvents:   make(chan ChannelOfferEvent, opts.OfferEventBuffer),
		queueSignal:   make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	if hs.oddIDs {
		s.nextID = 1
	} else {
		s.nextID = 2
	}

	if opts.Logger != nil {
		s.logger = opts.Logger.With("session", log.TruncateID(s.id.String(), 8))
	} else {
		s.logger = logger.With("session", log.TruncateID(s.id.String(), 8))
	}

	if opts.MaxSendRate > 0 {
		burst := int(opts.MaxSendRate)
		if burst < FramePayloadMaxLength {
			burst = FramePayloadMaxLength
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxSendRate), burst)
	}

	// 会话生命周期与握手 ctx 分离，ctx 中的值仍然可见
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.loops.Add(2)
	go s.readLoop()
	go s.writeLoop()

	s.logger.Debug("会话已建立", "version", s.version, "oddIDs", s.oddIDs)
	return s, nil
}

// ID 返回会话 ID（本端握手随机数）
func (s *Session) ID() uuid.UUID {
	return s.id
}

// ProtocolMajorVersion 返回协商的协议主版本
func (s *Session) ProtocolMajorVersion() int {
	return s.version
}

// ChannelOffered 返回对端提议的通知通道
//
// 缓冲满时通知被丢弃，提议本身仍可通过 AcceptChannelByName 或 AcceptChannel 接受。
// 会话结束后通道被关闭。
func (s *Session) ChannelOffered() <-chan ChannelOfferEvent {
	return s.offerEvents
}

// DroppedOfferEvents 返回因缓冲满而丢弃的提议通知数
func (s *Session) DroppedOfferEvents() int64 {
	return s.droppedOffers.Load()
}

// Completion 在会话和所有通道结束后关闭
func (s *Session) Completion() <-chan struct{} {
	return s.done
}

// Err 返回终止会话的错误，正常关闭时为 nil
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// IsClosed 返回会话是否已开始关闭
func (s *Session) IsClosed() bool {
	return s.closing.Load()
}

// NumChannels 返回当前通道数
func (s *Session) NumChannels() int {
	s.channelsMu.RLock()
	defer s.channelsMu.RUnlock()
	return len(s.channels)
}

// Close 关闭会话和所有通道，等待后台 goroutine 结束
func (s *Session) Close() error {
	s.terminate(nil)
	<-s.done

	s.errMu.Lock()
	defer s.errMu.Unlock()
	closeErr := s.closeErr
	if errors.Is(closeErr, net.ErrClosed) || errors.Is(closeErr, io.ErrClosedPipe) {
		closeErr = nil
	}
	return multierr.Append(s.err, closeErr)
}

// ============================================================================
//                              通道操作
// ============================================================================

// OfferChannel 提议通道并等待对端接受
//
// ctx 结束时撤销提议。
func (s *Session) OfferChannel(ctx context.Context, name string, opts *ChannelOptions) (*Channel, error) {
	ch, err := s.offer(name, opts)
	if err != nil {
		return nil, err
	}

	if _, err := ch.Acceptance(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			ch.dispose(nil)
			return nil, ctxErr
		}
		return nil, err
	}
	return ch, nil
}

// CreateChannel 提议匿名通道，不等待接受
//
// 对端通过 ChannelOffered 通知得到 ID 后调用 AcceptChannel。
func (s *Session) CreateChannel(opts *ChannelOptions) (*Channel, error) {
	return s.offer("", opts)
}

// AcceptChannel 按 ID 接受对端提议
func (s *Session) AcceptChannel(ctx context.Context, id uint32, opts *ChannelOptions) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := s.lookup(id)
	if ch == nil {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, id)
	}
	if ch.offeredLocally {
		return nil, fmt.Errorf("%w: channel %d was offered locally", ErrInvalidOptions, id)
	}

	ok, err := ch.tryAcceptOffer(opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: channel %d", ErrOfferAlreadyResolved, id)
	}
	s.dequeueOffer(ch)
	return ch, nil
}

// AcceptChannelByName 接受指定名称的下一个提议
//
// 已有排队的提议时立即接受，否则等待对端提议或 ctx 结束。
func (s *Session) AcceptChannelByName(ctx context.Context, name string, opts *ChannelOptions) (*Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: anonymous channels are accepted by id", ErrInvalidOptions)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	for {
		s.channelsMu.Lock()
		if s.closing.Load() {
			s.channelsMu.Unlock()
			return nil, ErrSessionClosed
		}
		queued := s.offeredByName[name]
		if len(queued) == 0 {
			w := &acceptWaiter{opts: opts, result: make(chan acceptResult, 1)}
			s.acceptWaiters[name] = append(s.acceptWaiters[name], w)
			s.channelsMu.Unlock()
			return s.waitAccept(ctx, name, w)
		}
		ch := queued[0]
		s.offeredByName[name] = queued[1:]
		if len(s.offeredByName[name]) == 0 {
			delete(s.offeredByName, name)
		}
		s.channelsMu.Unlock()

		ok, err := ch.tryAcceptOffer(opts)
		if err != nil {
			return nil, err
		}
		if ok {
			return ch, nil
		}
		// 提议已被撤销，继续取下一个
	}
}

// waitAccept 等待按名称的提议
func (s *Session) waitAccept(ctx context.Context, name string, w *acceptWaiter) (*Channel, error) {
	select {
	case r := <-w.result:
		return r.ch, r.err
	case <-ctx.Done():
	}

	s.channelsMu.Lock()
	removed := false
	waiters := s.acceptWaiters[name]
	for i, other := range waiters {
		if other == w {
			s.acceptWaiters[name] = append(waiters[:i:i], waiters[i+1:]...)
			if len(s.acceptWaiters[name]) == 0 {
				delete(s.acceptWaiters, name)
			}
			removed = true
			break
		}
	}
	s.channelsMu.Unlock()

	if removed {
		return nil, ctx.Err()
	}
	// 读循环已经取走了等待者，结果马上到达
	r := <-w.result
	return r.ch, r.err
}

// RejectChannel 按 ID 拒绝对端提议
func (s *Session) RejectChannel(id uint32) error {
	ch := s.lookup(id)
	if ch == nil {
		return fmt.Errorf("%w: %d", ErrChannelNotFound, id)
	}
	if ch.offeredLocally {
		return fmt.Errorf("%w: channel %d was offered locally", ErrInvalidOptions, id)
	}
	if !ch.Reject() {
		return fmt.Errorf("%w: channel %d", ErrOfferAlreadyResolved, id)
	}
	return nil
}

// offer 分配 ID 并发送 Offer 帧
func (s *Session) offer(name string, opts *ChannelOptions) (*Channel, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	window := s.advertisedWindow(opts.receivingWindow(s.opts.DefaultChannelReceivingWindowSize))
	params := OfferParameters{Name: name, RemoteWindowSize: window}
	payload := params.Encode()
	if len(payload) > FramePayloadMaxLength {
		return nil, fmt.Errorf("%w: channel name too long (%d bytes)", ErrInvalidOptions, len(name))
	}

	s.channelsMu.Lock()
	if s.closing.Load() {
		s.channelsMu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.nextID > math.MaxUint32-2 {
		s.channelsMu.Unlock()
		return nil, fmt.Errorf("%w: channel ids exhausted", ErrInvalidOptions)
	}
	id := s.nextID
	s.nextID += 2
	ch := newChannel(s, id, true, params)
	s.channels[id] = ch
	s.channelsMu.Unlock()

	s.channelOpened()
	if err := s.enqueue(newFrame(ControlOffer, id, payload), nil); err != nil {
		ch.dispose(err)
		return nil, err
	}
	ch.log().Debug("提议通道", "window", window)

	ch.applyOptions(opts)
	return ch, nil
}

// lookup 查找通道
func (s *Session) lookup(id uint32) *Channel {
	s.channelsMu.RLock()
	defer s.channelsMu.RUnlock()
	return s.channels[id]
}

// dequeueOffer 从按名称排队的提议中移除
func (s *Session) dequeueOffer(c *Channel) {
	if c.offer.Name == "" {
		return
	}
	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()
	s.removeOfferLocked(c)
}

func (s *Session) removeOfferLocked(c *Channel) {
	queued := s.offeredByName[c.offer.Name]
	for i, other := range queued {
		if other == c {
			s.offeredByName[c.offer.Name] = append(queued[:i:i], queued[i+1:]...)
			break
		}
	}
	if len(s.offeredByName[c.offer.Name]) == 0 {
		delete(s.offeredByName, c.offer.Name)
	}
}

// ============================================================================
//                              通道回调
// ============================================================================

// windowed 是否启用窗口流控
func (s *Session) windowed() bool {
	return s.version >= 2
}

// advertisedWindow 通告给对端的接收窗口
//
// 通告阈值减一，对端填满窗口时接收管道不会暂停写入。
func (s *Session) advertisedWindow(receiving int64) int64 {
	return clampWindow(receiving - 1)
}

// channelLogger 返回通道日志
func (s *Session) channelLogger(id uint32, name string, opts *ChannelOptions) *slog.Logger {
	if opts != nil && opts.Logger != nil {
		return opts.Logger
	}
	if f := s.opts.ChannelLoggerFactory; f != nil {
		if l := f(id, name); l != nil {
			return l
		}
	}
	return s.logger.With("channel", id, "name", name)
}

// onChannelWritingCompleted 通道出站方向结束
func (s *Session) onChannelWritingCompleted(c *Channel) {
	// 释放的通道由 ChannelTerminated 通知对端
	if s.closing.Load() || c.remotelyTerminated.Load() || !c.IsAccepted() || c.IsDisposed() {
		return
	}
	if err := s.enqueue(newFrame(ControlContentWritingCompleted, c.id, nil), nil); err != nil {
		c.log().Debug("发送写入完成失败", "error", err)
	}
}

// onChannelDisposed 通道完全结束，从表中移除并通知对端
func (s *Session) onChannelDisposed(c *Channel) {
	s.channelsMu.Lock()
	if s.channels[c.id] == c {
		delete(s.channels, c.id)
	}
	if c.offer.Name != "" {
		s.removeOfferLocked(c)
	}
	s.channelsMu.Unlock()
	s.channelClosed()

	if s.closing.Load() || c.remotelyTerminated.Load() {
		return
	}

	var code ControlCode
	switch {
	case c.IsAccepted():
		code = ControlChannelTerminated
	case c.offeredLocally:
		code = ControlOfferCanceled
	default:
		code = ControlOfferRejected
	}
	if err := s.enqueue(newFrame(code, c.id, nil), nil); err != nil {
		c.log().Debug("发送通道终止失败", "code", code, "error", err)
	}
}

// ============================================================================
//                              终止
// ============================================================================

// terminate 结束会话，只执行一次
//
// cause 为 nil 表示正常关闭。
func (s *Session) terminate(cause error) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)

		s.queueMu.Lock()
		s.writerClosed = true
		pending := s.queue
		s.queue = nil
		s.queueMu.Unlock()
		failFrames(pending, ErrSessionClosed)

		s.cancel()
		closeErr := s.conn.Close()

		s.errMu.Lock()
		s.err = cause
		s.closeErr = closeErr
		s.errMu.Unlock()

		if cause != nil {
			s.logger.Warn("会话异常终止", "error", cause)
		} else {
			s.logger.Debug("会话关闭")
		}

		s.channelsMu.Lock()
		channels := make([]*Channel, 0, len(s.channels))
		for _, ch := range s.channels {
			channels = append(channels, ch)
		}
		waiters := s.acceptWaiters
		s.acceptWaiters = make(map[string][]*acceptWaiter)
		s.offeredByName = make(map[string][]*Channel)
		s.channelsMu.Unlock()

		chErr := ErrSessionClosed
		if cause != nil {
			chErr = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
		}
		for _, ch := range channels {
			ch.dispose(chErr)
		}
		for _, ws := range waiters {
			for _, w := range ws {
				w.result <- acceptResult{err: ErrSessionClosed}
			}
		}

		go func() {
			s.loops.Wait()
			for _, ch := range channels {
				<-ch.Completion()
			}
			close(s.done)
		}()
	})
}
