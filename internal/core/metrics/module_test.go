package metrics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
)

// ============================================================================
// Fx 模块测试
// ============================================================================

// TestModule_Provides 测试模块提供的类型
func TestModule_Provides(t *testing.T) {
	var reporter Reporter

	app := fxtest.New(t,
		Module,
		fx.Populate(&reporter),
	)
	defer app.RequireStart().RequireStop()

	if reporter == nil {
		t.Fatal("Reporter not populated")
	}

	reporter.LogSentMessage(100)
	reporter.LogRecvMessage(200)

	stats := reporter.GetBandwidthTotals()
	if stats.TotalOut != 100 {
		t.Errorf("TotalOut = %d, want 100", stats.TotalOut)
	}
	if stats.TotalIn != 200 {
		t.Errorf("TotalIn = %d, want 200", stats.TotalIn)
	}
}

// TestModule_Disabled 测试关闭指标时 Reporter 为 nil
func TestModule_Disabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.Enabled = false

	var reporter Reporter
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&reporter),
	)
	defer app.RequireStart().RequireStop()

	if reporter != nil {
		t.Errorf("Reporter = %v, want nil when disabled", reporter)
	}
}

// TestModule_TrimLoop 测试生命周期内的周期性清理
func TestModule_TrimLoop(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.TrimIdleInterval = config.Duration(time.Minute)
	cfg.Metrics.IdleTimeout = config.Duration(2 * time.Minute)

	clk := clock.NewMock()

	var reporter Reporter
	app := fxtest.New(t,
		fx.Supply(cfg),
		fx.Provide(func() clock.Clock { return clk }),
		Module,
		fx.Populate(&reporter),
	)
	app.RequireStart()
	defer app.RequireStop()

	reporter.LogSentMessageChannel(10, "idle")

	// 推进时间，触发多次清理
	for i := 0; i < 4; i++ {
		clk.Add(time.Minute)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(reporter.GetBandwidthByChannel()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
		clk.Add(time.Minute)
	}
	t.Error("idle channel stats were not trimmed")
}
