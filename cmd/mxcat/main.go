// Package main 提供 mxcat 命令行工具
//
// mxcat 在一条 TCP 连接上建立多路复用会话，把标准输入/输出接到一个命名通道上，
// 用法类似 netcat：
//
//	mxcat -listen 127.0.0.1:9000 -channel chat
//	mxcat -connect 127.0.0.1:9000 -channel chat
//
// 加 -ws 时监听方以 WebSocket 提供会话，连接方使用 ws:// 地址：
//
//	mxcat -listen 127.0.0.1:9000 -ws -channel chat
//	mxcat -connect ws://127.0.0.1:9000/ -channel chat
//
// 监听方按名称接受通道，连接方提议通道。标准输入结束后通道写端关闭，
// 两个方向都结束后退出。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	mxstream "github.com/ericdotnet/Streams-Nerdbank-pro"
	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/log"
)

var logger = log.Logger("cmd/mxcat")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖 / 快速测试
//   JSON 配置文件：窗口、协议版本、指标等持久化配置
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 连接参数
	// ─────────────────────────────────────────────────────────────────────
	listenAddr  = flag.String("listen", "", "监听地址，接受一个连接")
	connectAddr = flag.String("connect", "", "连接地址")
	channelName = flag.String("channel", "stdio", "通道名称")
	useWS       = flag.Bool("ws", false, "监听方通过 WebSocket 接受连接")

	// ─────────────────────────────────────────────────────────────────────
	// 多路复用参数
	// ─────────────────────────────────────────────────────────────────────
	configFile = flag.String("config", "", "配置文件路径")
	preset     = flag.String("preset", "", "预设配置 (default/throughput/low-memory/legacy)")
	window     = flag.Int64("window", 0, "通道接收窗口（字节，0 = 使用配置）")
	rateLimit  = flag.Int64("rate", 0, "发送速率上限（字节/秒，0 = 不限制）")

	// ─────────────────────────────────────────────────────────────────────
	// 日志与诊断
	// ─────────────────────────────────────────────────────────────────────
	logLevel    = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")
	metricsAddr = flag.String("metrics", "", "Prometheus 指标端点地址（空 = 使用配置）")

	// ─────────────────────────────────────────────────────────────────────
	// 信息显示
	// ─────────────────────────────────────────────────────────────────────
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(mxstream.VersionInfo())
		return nil
	}

	if (*listenAddr == "") == (*connectAddr == "") {
		flag.Usage()
		return errors.New("必须且只能指定 -listen 或 -connect 之一")
	}

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	m, err := mxstream.New(mxstream.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = m.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Diagnostics.EnableMetricsEndpoint {
		srv, err := serveMetrics(cfg.Diagnostics.MetricsAddr, m.Collector())
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
	}

	sess, err := openSession(ctx, m)
	if err != nil {
		return err
	}
	logger.Info("会话已建立", "session", sess.ID(), "protocolVersion", sess.ProtocolMajorVersion())

	ch, err := openChannel(ctx, sess, *connectAddr != "", *channelName)
	if err != nil {
		return err
	}
	logger.Info("通道已建立", "channel", ch.ID(), "name", ch.Name())

	err = pump(ctx, ch, os.Stdin, os.Stdout)
	_ = ch.Close()
	if cerr := sess.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// buildConfig 构建统一配置
//
// 配置优先级（从高到低）：
//  1. 命令行参数
//  2. 环境变量（MXCAT_* 前缀）
//  3. 配置文件
//  4. 预设默认值
func buildConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := loadConfigFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	if err := config.ApplyPreset(cfg, *preset); err != nil {
		return nil, err
	}
	if *window > 0 {
		cfg.Multiplexing.DefaultChannelReceivingWindowSize = *window
	}
	if isFlagSet("rate") {
		cfg.Multiplexing.MaxSendRate = *rateLimit
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Diagnostics.EnableMetricsEndpoint = true
		cfg.Diagnostics.MetricsAddr = *metricsAddr
	}

	return config.ValidateAndFix(cfg)
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// setupLogging 按配置设置日志输出（stderr，stdout 留给通道数据）
func setupLogging(c config.LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("日志级别: %w", err)
	}
	if c.Format == "json" {
		log.SetDefault(log.NewJSON(os.Stderr, level))
	} else {
		log.SetDefault(log.New(os.Stderr, level))
	}
	return nil
}

// serveMetrics 启动 Prometheus 指标端点
func serveMetrics(addr string, collector prometheus.Collector) (*http.Server, error) {
	if collector == nil {
		return nil, errors.New("指标端点需要启用流量统计")
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		return nil, fmt.Errorf("注册指标: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听指标端点: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("指标端点退出", "err", err)
		}
	}()
	logger.Info("指标端点已启动", "addr", ln.Addr().String())
	return srv, nil
}

// openSession 监听或连接，建立会话
func openSession(ctx context.Context, m *mxstream.Multiplexer) (*mxstream.Session, error) {
	if *connectAddr != "" {
		if isWebSocketURL(*connectAddr) {
			return m.DialWebSocket(ctx, *connectAddr)
		}
		return m.Dial(ctx, "tcp", *connectAddr)
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}
	defer ln.Close()
	logger.Info("等待连接", "addr", ln.Addr().String())

	// 收到信号时关闭监听以解除 Accept
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	if *useWS {
		return acceptWebSocket(ctx, m, ln)
	}
	return m.Accept(ctx, ln)
}

// isWebSocketURL 判断连接地址是否为 ws:// 或 wss://
func isWebSocketURL(addr string) bool {
	return strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://")
}

// acceptWebSocket 在 ln 上提供 HTTP 服务，返回第一个建立的会话
//
// 之后到达的连接被关闭。HTTP 服务在返回前停止，已升级的连接不受影响。
func acceptWebSocket(ctx context.Context, m *mxstream.Multiplexer, ln net.Listener) (*mxstream.Session, error) {
	sessions := make(chan *mxstream.Session, 1)
	srv := &http.Server{
		Handler: m.WebSocketHandler(func(s *mxstream.Session) {
			select {
			case sessions <- s:
			default:
				_ = s.Close()
			}
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Close() }()

	select {
	case s := <-sessions:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// openChannel 连接方提议通道，监听方按名称接受
func openChannel(ctx context.Context, sess *mxstream.Session, offer bool, name string) (*mxstream.Channel, error) {
	if offer {
		ch, err := sess.OfferChannel(ctx, name, nil)
		if err != nil {
			return nil, fmt.Errorf("提议通道 %q: %w", name, err)
		}
		return ch, nil
	}
	ch, err := sess.AcceptChannelByName(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("接受通道 %q: %w", name, err)
	}
	return ch, nil
}

// halfCloser 支持只关闭写方向的流
type halfCloser interface {
	io.ReadWriter
	CloseWrite() error
}

// pump 在通道和本地输入输出之间双向复制
//
// in 读完后关闭通道写端；通道读到 EOF 后停止输出。两个方向都结束后返回。
// ctx 结束时不等待 in 上阻塞的读取。
func pump(ctx context.Context, ch halfCloser, in io.Reader, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	errc := make(chan error, 2)

	g.Go(func() error {
		if _, err := io.Copy(ch, in); err != nil {
			errc <- fmt.Errorf("发送: %w", err)
			return err
		}
		if err := ch.CloseWrite(); err != nil {
			errc <- err
			return err
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.Copy(out, ch); err != nil {
			errc <- fmt.Errorf("接收: %w", err)
			return err
		}
		return nil
	})

	wait := make(chan error, 1)
	go func() { wait <- g.Wait() }()

	// 出错的一方先把错误放入 errc 再返回，Wait 返回时 errc 中必有该错误
	firstErr := func() error {
		select {
		case err := <-errc:
			return err
		default:
			return nil
		}
	}

	select {
	case <-wait:
		return firstErr()
	case <-gctx.Done():
		if ctx.Err() != nil {
			logger.Info("收到退出信号")
			return nil
		}
		select {
		case err := <-errc:
			return err
		case <-wait:
			return firstErr()
		}
	}
}
