package mxstream

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
)

// TestVersionInfo 测试版本信息
func TestVersionInfo(t *testing.T) {
	assert.Equal(t, "mxstream "+Version, VersionInfo())

	GitCommit = "0123456789abcdef"
	defer func() { GitCommit = "" }()
	assert.Equal(t, "mxstream "+Version+" (01234567)", VersionInfo())
}

// TestOptions_ToConfig 测试选项转换为统一配置
func TestOptions_ToConfig(t *testing.T) {
	t.Run("默认", func(t *testing.T) {
		cfg, err := newOptions().toConfig()
		require.NoError(t, err)
		assert.Equal(t, config.NewConfig(), cfg)
	})

	t.Run("预设后覆盖", func(t *testing.T) {
		o := newOptions()
		for _, opt := range []Option{
			WithPreset(PresetLowMemory),
			WithReceivingWindow(1024),
			WithMaxSendRate(4096),
			WithHandshakeTimeout(time.Second),
			WithMetrics(false),
		} {
			require.NoError(t, opt(o))
		}
		cfg, err := o.toConfig()
		require.NoError(t, err)
		assert.Equal(t, int64(1024), cfg.Multiplexing.DefaultChannelReceivingWindowSize)
		assert.Equal(t, 16, cfg.Multiplexing.OfferEventBuffer)
		assert.Equal(t, int64(4096), cfg.Multiplexing.MaxSendRate)
		assert.Equal(t, time.Second, cfg.Multiplexing.HandshakeTimeout.Duration())
		assert.False(t, cfg.Metrics.Enabled)
	})

	t.Run("用户配置不被修改", func(t *testing.T) {
		user := config.NewConfig()
		o := newOptions()
		require.NoError(t, WithConfig(user)(o))
		require.NoError(t, WithProtocolVersion(1)(o))
		cfg, err := o.toConfig()
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Multiplexing.ProtocolMajorVersion)
		assert.Equal(t, 2, user.Multiplexing.ProtocolMajorVersion)
	})

	t.Run("非法值", func(t *testing.T) {
		assert.Error(t, WithReceivingWindow(0)(newOptions()))
		assert.Error(t, WithConfig(nil)(newOptions()))

		o := newOptions()
		require.NoError(t, WithPreset("unknown")(o))
		_, err := o.toConfig()
		assert.Error(t, err)

		o = newOptions()
		require.NoError(t, WithProtocolVersion(3)(o))
		_, err = o.toConfig()
		assert.Error(t, err)
	})
}

// TestNew_InvalidOption 测试非法选项
func TestNew_InvalidOption(t *testing.T) {
	_, err := New(WithReceivingWindow(-1))
	assert.Error(t, err)

	_, err = New(WithOfferEventBuffer(-1))
	assert.Error(t, err)
}

// newMultiplexer 创建测试用的 Multiplexer
func newMultiplexer(t *testing.T, opts ...Option) *Multiplexer {
	t.Helper()
	m, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// TestMultiplexer_DialAccept 测试通过 TCP 建立会话并传输数据
func TestMultiplexer_DialAccept(t *testing.T) {
	m := newMultiplexer(t, WithClock(clock.NewMock()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var server, client *Session
	var g errgroup.Group
	g.Go(func() (err error) {
		server, err = m.Accept(ctx, ln)
		return err
	})
	g.Go(func() (err error) {
		client, err = m.Dial(ctx, "tcp", ln.Addr().String())
		return err
	})
	require.NoError(t, g.Wait())
	assert.Equal(t, 2, m.NumSessions())

	var received []byte
	g.Go(func() error {
		ch, err := server.AcceptChannelByName(ctx, "greeting", nil)
		if err != nil {
			return err
		}
		received, err = io.ReadAll(ch)
		return err
	})
	ch, err := client.OfferChannel(ctx, "greeting", nil)
	require.NoError(t, err)
	_, err = ch.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, ch.CloseWrite())
	require.NoError(t, g.Wait())
	assert.Equal(t, "hello", string(received))

	require.NotNil(t, m.Reporter())
	assert.Equal(t, int64(5), m.Reporter().GetBandwidthForChannel("greeting").TotalIn)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.Collector()))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, m.Close())
	assert.True(t, client.IsClosed())
	assert.True(t, server.IsClosed())

	c, _ := net.Pipe()
	_, err = m.NewSession(ctx, c)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.Close())
}

// TestMultiplexer_WebSocket 测试通过 WebSocket 建立会话并传输数据
func TestMultiplexer_WebSocket(t *testing.T) {
	m := newMultiplexer(t)

	accepted := make(chan *Session, 1)
	srv := httptest.NewServer(m.WebSocketHandler(func(s *Session) {
		accepted <- s
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := m.DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	var server *Session
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("服务端未建立会话")
	}

	var g errgroup.Group
	var received []byte
	g.Go(func() error {
		ch, err := server.AcceptChannelByName(ctx, "ws", nil)
		if err != nil {
			return err
		}
		received, err = io.ReadAll(ch)
		return err
	})
	ch, err := client.OfferChannel(ctx, "ws", nil)
	require.NoError(t, err)
	_, err = ch.Write([]byte("over websocket"))
	require.NoError(t, err)
	require.NoError(t, ch.CloseWrite())
	require.NoError(t, g.Wait())
	assert.Equal(t, "over websocket", string(received))

	require.NoError(t, client.Close())
	waitDone(t, server.Completion())
}

// TestMultiplexer_WebSocketDialError 测试无法连接时返回错误
func TestMultiplexer_WebSocketDialError(t *testing.T) {
	m := newMultiplexer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = m.DialWebSocket(ctx, "ws://"+addr+"/")
	assert.Error(t, err)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("等待结束超时")
	}
}

// TestMultiplexer_MetricsDisabled 测试关闭统计
func TestMultiplexer_MetricsDisabled(t *testing.T) {
	m := newMultiplexer(t, WithMetrics(false))
	assert.Nil(t, m.Reporter())
	assert.Nil(t, m.Collector())
	assert.False(t, m.Config().Metrics.Enabled)
}

// TestNewSession_Direct 测试不经过 Multiplexer 创建会话
func TestNewSession_Direct(t *testing.T) {
	c1, c2 := net.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var a, b *Session
	var g errgroup.Group
	g.Go(func() (err error) {
		a, err = NewSession(ctx, c1, DefaultSessionOptions())
		return err
	})
	g.Go(func() (err error) {
		b, err = NewSession(ctx, c2, DefaultSessionOptions())
		return err
	})
	require.NoError(t, g.Wait())
	defer a.Close()
	defer b.Close()

	assert.Equal(t, a.ProtocolMajorVersion(), b.ProtocolMajorVersion())
	assert.NotEqual(t, a.ID(), b.ID())
}
