package mxstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/metrics"
	mux "github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/mxstream"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/log"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/wsconn"
)

var fxLogger = log.Logger("mxstream/fx")

// stopTimeout 应用停止的最长等待时间
const stopTimeout = 15 * time.Second

// Multiplexer 持有配置、流量统计和会话工厂
//
// 由 New 通过 Fx 组装；同一 Multiplexer 创建的会话共享选项和统计。
type Multiplexer struct {
	app      *fx.App
	cfg      *config.Config
	factory  *mux.Factory
	reporter metrics.Reporter

	closeOnce sync.Once
	closeErr  error
}

// New 创建并启动 Multiplexer
//
// 示例：
//
//	m, err := mxstream.New(mxstream.WithReceivingWindow(1 << 20))
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	sess, err := m.Dial(ctx, "tcp", "127.0.0.1:9000")
func New(opts ...Option) (*Multiplexer, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg, err := o.toConfig()
	if err != nil {
		return nil, err
	}

	m := &Multiplexer{cfg: cfg}
	app := buildFxApp(cfg, o, m)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("start app: %w", err)
	}

	m.app = app
	fxLogger.Debug("multiplexer started",
		"protocolVersion", cfg.Multiplexing.ProtocolMajorVersion,
		"receivingWindow", cfg.Multiplexing.DefaultChannelReceivingWindowSize,
		"metrics", cfg.Metrics.Enabled)
	return m, nil
}

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：metrics → mxstream，然后是用户选项。
func buildFxApp(cfg *config.Config, o *options, m *Multiplexer) *fx.App {
	modules := []fx.Option{
		fx.Supply(cfg),
		metrics.Module,
		mux.Module,
	}

	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}

	modules = append(modules, o.fxOptions...)

	modules = append(modules,
		fx.Populate(&m.factory, &m.reporter),
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	return fx.New(modules...)
}

// Config 返回生效配置的副本
func (m *Multiplexer) Config() *config.Config {
	return config.CloneConfig(m.cfg)
}

// Reporter 返回流量统计，关闭统计时为 nil
func (m *Multiplexer) Reporter() Reporter {
	return m.reporter
}

// Collector 返回导出流量统计的 Prometheus 收集器，关闭统计时为 nil
func (m *Multiplexer) Collector() prometheus.Collector {
	if m.reporter == nil {
		return nil
	}
	return metrics.NewCollector(m.reporter)
}

// NumSessions 返回存活的会话数
func (m *Multiplexer) NumSessions() int {
	return m.factory.NumSessions()
}

// NewSession 在 conn 上完成握手并创建会话
//
// 握手失败时 conn 被关闭。
func (m *Multiplexer) NewSession(ctx context.Context, conn io.ReadWriteCloser) (*Session, error) {
	s, err := m.factory.NewSession(ctx, conn)
	if err != nil {
		if errors.Is(err, mux.ErrSessionClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return s, nil
}

// Dial 拨号并在连接上创建会话
func (m *Multiplexer) Dial(ctx context.Context, network, address string) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return m.NewSession(ctx, conn)
}

// Accept 从 ln 接受一个连接并在其上创建会话
func (m *Multiplexer) Accept(ctx context.Context, ln net.Listener) (*Session, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	return m.NewSession(ctx, conn)
}

// DialWebSocket 连接 ws:// 或 wss:// 地址并在其上创建会话
func (m *Multiplexer) DialWebSocket(ctx context.Context, url string) (*Session, error) {
	conn, err := wsconn.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return m.NewSession(ctx, conn)
}

// WebSocketHandler 返回接受 WebSocket 连接的 HTTP 处理器
//
// 每个连接握手成功后在处理器 goroutine 中调用 onSession。
// 握手失败只记录日志。
func (m *Multiplexer) WebSocketHandler(onSession func(*Session)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsconn.Upgrade(w, r)
		if err != nil {
			fxLogger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		s, err := m.NewSession(r.Context(), conn)
		if err != nil {
			fxLogger.Warn("websocket session failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		onSession(s)
	})
}

// Close 关闭所有会话并停止应用
//
// 可以重复调用。
func (m *Multiplexer) Close() error {
	m.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		m.closeErr = m.app.Stop(ctx)
	})
	return m.closeErr
}
