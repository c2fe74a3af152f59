// Package metrics 提供多路复用会话的流量指标
//
// metrics 模块实现会话级流量统计：
//   - 传输层字节（含帧头，全局）
//   - 按通道名称统计的内容字节
//   - 按控制码统计的帧数
//   - 当前打开的通道数
//   - 滑动窗口速率（60 × 1 秒桶）
//
// # 快速开始
//
//	counter := metrics.NewBandwidthCounter()
//
//	session, _ := mxstream.NewSession(ctx, conn, mxstream.Options{
//	    DefaultChannelReceivingWindowSize: mxstream.DefaultChannelReceivingWindowSize,
//	    ProtocolMajorVersion:              2,
//	    Metrics:                           counter,
//	})
//
//	stats := counter.GetBandwidthTotals()
//	fmt.Printf("In: %d, Out: %d\n", stats.TotalIn, stats.TotalOut)
//
// # Prometheus
//
//	registry := prometheus.NewRegistry()
//	registry.MustRegister(metrics.NewCollector(counter))
//
// # 时钟
//
// RateMeter 和 BandwidthCounter 接受 clock.Clock，测试中可以使用
// clock.NewMock() 推进时间。
//
// # Fx 模块
//
//	app := fx.New(
//	    metrics.Module,
//	    fx.Invoke(func(reporter metrics.Reporter) {
//	        // reporter 为 nil 表示指标已关闭
//	    }),
//	)
//
// Module 在启用时注册一个周期性 TrimIdle 任务，清理长时间空闲的通道统计。
//
// # 并发安全
//
// 所有方法都是并发安全的。
package metrics
