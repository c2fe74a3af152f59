package mxstream

import (
	"context"
	"io"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/metrics"
	mux "github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/mxstream"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "mxstream " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// Session 一条传输上的多路复用会话
	Session = mux.Session

	// Channel 会话中的逻辑双工字节流
	Channel = mux.Channel

	// ChannelOptions 通道选项
	ChannelOptions = mux.ChannelOptions

	// ChannelOfferEvent 对端提议通道的通知
	ChannelOfferEvent = mux.ChannelOfferEvent

	// SessionOptions 直接创建会话时使用的选项
	SessionOptions = mux.Options

	// Reporter 流量统计
	Reporter = metrics.Reporter

	// Stats 带宽统计快照
	Stats = metrics.Stats

	// PipeOptions 管道阈值
	PipeOptions = pipe.Options
)

// DefaultSessionOptions 返回默认会话选项
func DefaultSessionOptions() SessionOptions {
	return mux.DefaultOptions()
}

// NewSession 不经过 Multiplexer，直接在 conn 上创建会话
//
// ctx 只约束握手。握手失败时 conn 被关闭。
func NewSession(ctx context.Context, conn io.ReadWriteCloser, opts SessionOptions) (*Session, error) {
	return mux.NewSession(ctx, conn, opts)
}
