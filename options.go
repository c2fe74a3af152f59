package mxstream

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
)

// 预设名称常量
const (
	// PresetDefault 默认参数
	PresetDefault = "default"

	// PresetThroughput 大窗口，适合大块数据传输
	PresetThroughput = "throughput"

	// PresetLowMemory 小窗口，限制每通道缓冲
	PresetLowMemory = "low-memory"

	// PresetLegacy 协议版本 1，无流控确认
	PresetLegacy = "legacy"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 预设配置
	preset string

	// 用户提供的完整配置（JSON/文件加载）
	userConfig *config.Config

	// 多路复用覆盖项
	multiplexing struct {
		receivingWindow  *int64
		protocolVersion  *int
		offerEventBuffer *int
		maxSendRate      *int64
		handshakeTimeout *time.Duration
	}

	// 指标
	metricsEnabled *bool
	clock          clock.Clock

	// 用户自定义 Fx 选项
	fxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{}
}

// toConfig 转换为统一配置
//
// 顺序：用户配置或默认配置 → 预设 → 单项覆盖。
func (o *options) toConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if o.userConfig != nil {
		cfg = config.CloneConfig(o.userConfig)
	}

	if err := config.ApplyPreset(cfg, o.preset); err != nil {
		return nil, err
	}

	m := &cfg.Multiplexing
	if v := o.multiplexing.receivingWindow; v != nil {
		m.DefaultChannelReceivingWindowSize = *v
	}
	if v := o.multiplexing.protocolVersion; v != nil {
		m.ProtocolMajorVersion = *v
	}
	if v := o.multiplexing.offerEventBuffer; v != nil {
		m.OfferEventBuffer = *v
	}
	if v := o.multiplexing.maxSendRate; v != nil {
		m.MaxSendRate = *v
	}
	if v := o.multiplexing.handshakeTimeout; v != nil {
		m.HandshakeTimeout = config.Duration(*v)
	}
	if o.metricsEnabled != nil {
		cfg.Metrics.Enabled = *o.metricsEnabled
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置选项
// ════════════════════════════════════════════════════════════════════════════

// WithPreset 使用预设配置
//
// 预设在 WithConfig 之后、单项选项之前应用。
//
// 示例：
//
//	m, err := mxstream.New(mxstream.WithPreset(mxstream.PresetThroughput))
func WithPreset(name string) Option {
	return func(o *options) error {
		o.preset = name
		return nil
	}
}

// WithConfig 使用完整的统一配置
//
// 配置会被复制，之后修改 cfg 不影响 Multiplexer。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.userConfig = cfg
		return nil
	}
}

// WithReceivingWindow 设置通道默认接收窗口（字节）
func WithReceivingWindow(size int64) Option {
	return func(o *options) error {
		if size <= 0 {
			return fmt.Errorf("receiving window must be positive, got %d", size)
		}
		o.multiplexing.receivingWindow = &size
		return nil
	}
}

// WithProtocolVersion 设置协议主版本（1 或 2）
func WithProtocolVersion(version int) Option {
	return func(o *options) error {
		o.multiplexing.protocolVersion = &version
		return nil
	}
}

// WithOfferEventBuffer 设置提议通知的缓冲大小
func WithOfferEventBuffer(n int) Option {
	return func(o *options) error {
		o.multiplexing.offerEventBuffer = &n
		return nil
	}
}

// WithMaxSendRate 设置会话发送速率上限（字节/秒），0 表示不限制
func WithMaxSendRate(bytesPerSecond int64) Option {
	return func(o *options) error {
		o.multiplexing.maxSendRate = &bytesPerSecond
		return nil
	}
}

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.multiplexing.handshakeTimeout = &d
		return nil
	}
}

// WithMetrics 启用或关闭流量统计
func WithMetrics(enabled bool) Option {
	return func(o *options) error {
		o.metricsEnabled = &enabled
		return nil
	}
}

// WithClock 设置流量统计使用的时钟，测试中可注入 clock.NewMock()
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithFxOptions 追加用户自定义的 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
