package metrics

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/log"
)

var logger = log.Logger("core/metrics")

// Config 指标配置
type Config struct {
	// Enabled 是否启用指标收集
	Enabled bool

	// TrimIdleInterval 清理空闲通道统计的周期，0 表示不清理
	TrimIdleInterval time.Duration

	// IdleTimeout 通道统计无活动多久后被清理
	IdleTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		TrimIdleInterval: time.Minute,
		IdleTimeout:      5 * time.Minute,
	}
}

// ConfigFromUnified 从统一配置创建指标配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Enabled:          cfg.Metrics.Enabled,
		TrimIdleInterval: cfg.Metrics.TrimIdleInterval.Duration(),
		IdleTimeout:      cfg.Metrics.IdleTimeout.Duration(),
	}
}

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock    `optional:"true"`
	Lifecycle  fx.Lifecycle
}

// Module 是 metrics 的 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(NewReporterFromParams),
)

// NewReporterFromParams 从参数创建 Reporter
//
// 指标关闭时返回 nil。
func NewReporterFromParams(p Params) Reporter {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if !cfg.Enabled {
		return nil
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	bwc := NewBandwidthCounterWithClock(clk)

	if cfg.TrimIdleInterval > 0 && cfg.IdleTimeout > 0 {
		stop := make(chan struct{})
		done := make(chan struct{})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go runTrimLoop(bwc, clk, cfg, stop, done)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				close(stop)
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}
	return bwc
}

// runTrimLoop 周期性清理空闲通道统计
func runTrimLoop(bwc *BandwidthCounter, clk clock.Clock, cfg Config, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := clk.Ticker(cfg.TrimIdleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			bwc.TrimIdle(now.Add(-cfg.IdleTimeout))
			logger.Debug("清理空闲通道统计", "channels", len(bwc.GetBandwidthByChannel()))
		}
	}
}
