// Package mxstream 在一条双工字节传输上复用多个独立的双向字节流
//
// 每个逻辑流称为通道（Channel）。通道之间通过按通道的滑动窗口流控相互隔离：
// 一个通道的读端停止消费，只会让该通道的发送方暂停，不会阻塞其他通道。
//
// # 核心概念
//
//   - Multiplexer: 用户入口，持有配置、流量统计和会话工厂
//   - Session: 独占一条传输（通常是 net.Conn），承载多个通道
//   - Channel: 会话内的逻辑双工字节流，实现 io.ReadWriteCloser
//
// # 快速开始
//
//	m, err := mxstream.New(mxstream.WithPreset(mxstream.PresetDefault))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	// 拨号方
//	sess, err := m.Dial(ctx, "tcp", "127.0.0.1:9000")
//	ch, err := sess.OfferChannel(ctx, "greeting", nil)
//	ch.Write([]byte("hello"))
//	ch.CloseWrite()
//
//	// 监听方
//	sess, err := m.Accept(ctx, ln)
//	ch, err := sess.AcceptChannelByName(ctx, "greeting", nil)
//	data, err := io.ReadAll(ch)
//
// 也可以用 WebSocket 作为传输：服务端挂载 m.WebSocketHandler，
// 客户端调用 m.DialWebSocket(ctx, "ws://host/path")。
//
// # 文件组织
//
//	mxstream/
//	├── mxstream.go           # 版本信息、类型别名
//	├── options.go            # WithXxx 配置选项、预设名称
//	├── fx.go                 # Multiplexer、Fx 组装
//	├── errors.go             # 错误定义
//	│
//	├── config/               # 统一配置（JSON、校验、预设）
//	├── internal/core/mxstream/ # 会话、通道、帧编解码、Fx 模块
//	├── internal/core/metrics/  # 流量统计、Prometheus 收集器
//	├── pkg/lib/pipe/         # 内存管道
//	├── pkg/lib/wsconn/       # WebSocket 传输适配
//	└── cmd/mxcat/            # 命令行工具
//
// # 预设配置
//
//	mxstream.PresetDefault     默认参数（5MB 窗口，协议版本 2）
//	mxstream.PresetThroughput  16MB 窗口
//	mxstream.PresetLowMemory   256KB 窗口，较小的提议缓冲
//	mxstream.PresetLegacy      协议版本 1，无流控确认
//
// 不需要 Multiplexer 时，可以直接调用 NewSession：
//
//	sess, err := mxstream.NewSession(ctx, conn, mxstream.DefaultSessionOptions())
package mxstream
