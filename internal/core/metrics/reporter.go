package metrics

import (
	"time"
)

// Direction 帧方向
type Direction string

const (
	// DirIn 入站
	DirIn Direction = "in"
	// DirOut 出站
	DirOut Direction = "out"
)

// FrameKey 帧计数键
type FrameKey struct {
	Direction Direction
	Code      string
}

// Reporter 提供记录和检索多路复用会话指标的方法
//
// 会话记录传输字节（含帧头）、按通道名称统计的内容字节、
// 按控制码统计的帧数和当前打开的通道数。
type Reporter interface {
	// LogSentMessage 记录发送到传输层的字节数
	LogSentMessage(int64)

	// LogRecvMessage 记录从传输层读取的字节数
	LogRecvMessage(int64)

	// LogSentMessageChannel 记录通道发送的内容字节数
	LogSentMessageChannel(size int64, channel string)

	// LogRecvMessageChannel 记录通道接收的内容字节数
	LogRecvMessageChannel(size int64, channel string)

	// LogFrame 记录一个帧
	LogFrame(dir Direction, code string)

	// ChannelOpened 记录通道打开
	ChannelOpened()

	// ChannelClosed 记录通道关闭
	ChannelClosed()

	// OpenChannels 返回当前打开的通道数
	OpenChannels() int64

	// FrameCounts 返回帧计数快照
	FrameCounts() map[FrameKey]int64

	// GetBandwidthForChannel 获取通道带宽统计
	GetBandwidthForChannel(channel string) Stats

	// GetBandwidthTotals 获取总带宽统计
	GetBandwidthTotals() Stats

	// GetBandwidthByChannel 获取所有通道带宽统计
	GetBandwidthByChannel() map[string]Stats

	// Reset 重置所有统计
	Reset()

	// TrimIdle 清理 since 之后没有活动的通道统计
	TrimIdle(since time.Time)
}

// 确保 BandwidthCounter 实现 Reporter 接口
var _ Reporter = (*BandwidthCounter)(nil)
