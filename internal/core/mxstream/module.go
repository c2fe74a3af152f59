package mxstream

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/metrics"
)

// Config 多路复用配置
type Config struct {
	DefaultChannelReceivingWindowSize int64         // 通道默认接收窗口
	ProtocolMajorVersion              int           // 协议主版本
	OfferEventBuffer                  int           // 提议通知缓冲
	MaxSendRate                       int64         // 发送速率上限（字节/秒）
	HandshakeTimeout                  time.Duration // 握手超时，0 表示只受调用方 ctx 约束
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultChannelReceivingWindowSize: DefaultChannelReceivingWindowSize,
		ProtocolMajorVersion:              DefaultProtocolMajorVersion,
		OfferEventBuffer:                  DefaultOfferEventBuffer,
		HandshakeTimeout:                  10 * time.Second,
	}
}

// ConfigFromUnified 从统一配置创建多路复用配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	m := cfg.Multiplexing
	return Config{
		DefaultChannelReceivingWindowSize: m.DefaultChannelReceivingWindowSize,
		ProtocolMajorVersion:              m.ProtocolMajorVersion,
		OfferEventBuffer:                  m.OfferEventBuffer,
		MaxSendRate:                       m.MaxSendRate,
		HandshakeTimeout:                  m.HandshakeTimeout.Duration(),
	}
}

// Options 把配置转换为会话选项
func (c Config) Options() Options {
	opts := DefaultOptions()
	opts.DefaultChannelReceivingWindowSize = c.DefaultChannelReceivingWindowSize
	opts.ProtocolMajorVersion = c.ProtocolMajorVersion
	opts.OfferEventBuffer = c.OfferEventBuffer
	opts.MaxSendRate = c.MaxSendRate
	return opts
}

// Params Factory 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config   `optional:"true"`
	Reporter   metrics.Reporter `optional:"true"`
	Lifecycle  fx.Lifecycle
}

// Module 是 mxstream 的 Fx 模块
var Module = fx.Module("mxstream",
	fx.Provide(NewFactoryFromParams),
)

// NewFactoryFromParams 从参数创建 Factory，并在应用停止时关闭所有会话
func NewFactoryFromParams(p Params) (*Factory, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	opts := cfg.Options()
	opts.Metrics = p.Reporter
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	f := NewFactory(opts, cfg.HandshakeTimeout)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return f.Close()
		},
	})
	return f, nil
}

// Factory 使用相同选项在多个传输上创建会话
type Factory struct {
	opts             Options
	handshakeTimeout time.Duration

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// NewFactory 创建 Factory
func NewFactory(opts Options, handshakeTimeout time.Duration) *Factory {
	return &Factory{
		opts:             opts,
		handshakeTimeout: handshakeTimeout,
		sessions:         make(map[*Session]struct{}),
	}
}

// Options 返回会话选项
func (f *Factory) Options() Options {
	return f.opts
}

// NewSession 在 conn 上创建会话
func (f *Factory) NewSession(ctx context.Context, conn io.ReadWriteCloser) (*Session, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		_ = conn.Close()
		return nil, ErrSessionClosed
	}

	if f.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.handshakeTimeout)
		defer cancel()
	}

	s, err := NewSession(ctx, conn, f.opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = s.Close()
		return nil, ErrSessionClosed
	}
	f.sessions[s] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-s.Completion()
		f.mu.Lock()
		delete(f.sessions, s)
		f.mu.Unlock()
	}()
	return s, nil
}

// NumSessions 返回存活的会话数
func (f *Factory) NumSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Close 关闭所有会话，之后不能再创建会话
func (f *Factory) Close() error {
	f.mu.Lock()
	f.closed = true
	sessions := make([]*Session, 0, len(f.sessions))
	for s := range f.sessions {
		sessions = append(sessions, s)
	}
	f.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}
