package mxstream

import (
	"fmt"
	"log/slog"

	"github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/metrics"
	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

const (
	// DefaultChannelReceivingWindowSize 默认通道接收窗口（5MB）
	DefaultChannelReceivingWindowSize = 5 * 1024 * 1024

	// DefaultProtocolMajorVersion 默认协议主版本
	DefaultProtocolMajorVersion = 2

	// DefaultOfferEventBuffer 默认提议事件缓冲
	DefaultOfferEventBuffer = 64
)

// ChannelLoggerFactory 为通道创建日志记录器
//
// 返回 nil 时使用会话日志记录器派生的默认值。
type ChannelLoggerFactory func(id uint32, name string) *slog.Logger

// Options 会话选项
type Options struct {
	// DefaultChannelReceivingWindowSize 通道未指定输入管道阈值时使用的接收窗口，必须为正
	DefaultChannelReceivingWindowSize int64

	// ProtocolMajorVersion 协议主版本
	//
	// 1: 不发送 ContentProcessed，不限制发送窗口
	// 2: 启用窗口流控
	ProtocolMajorVersion int

	// Logger 会话日志，nil 时使用 core/mxstream 组件日志
	Logger *slog.Logger

	// ChannelLoggerFactory 通道日志工厂，可为 nil
	ChannelLoggerFactory ChannelLoggerFactory

	// OfferEventBuffer ChannelOffered 通道的缓冲大小
	OfferEventBuffer int

	// MaxSendRate 会话总发送速率上限（字节/秒），0 表示不限制
	MaxSendRate int64

	// Metrics 流量统计，可为 nil
	Metrics metrics.Reporter
}

// DefaultOptions 返回默认会话选项
func DefaultOptions() Options {
	return Options{
		DefaultChannelReceivingWindowSize: DefaultChannelReceivingWindowSize,
		ProtocolMajorVersion:              DefaultProtocolMajorVersion,
		OfferEventBuffer:                  DefaultOfferEventBuffer,
	}
}

// Validate 校验会话选项
func (o Options) Validate() error {
	if o.DefaultChannelReceivingWindowSize <= 0 {
		return fmt.Errorf("%w: default channel receiving window must be positive, got %d",
			ErrInvalidOptions, o.DefaultChannelReceivingWindowSize)
	}
	if o.ProtocolMajorVersion != 1 && o.ProtocolMajorVersion != 2 {
		return fmt.Errorf("%w: unsupported protocol major version %d", ErrInvalidOptions, o.ProtocolMajorVersion)
	}
	if o.OfferEventBuffer < 0 {
		return fmt.Errorf("%w: negative offer event buffer", ErrInvalidOptions)
	}
	if o.MaxSendRate < 0 {
		return fmt.Errorf("%w: negative max send rate", ErrInvalidOptions)
	}
	return nil
}

// ChannelOptions 通道选项
type ChannelOptions struct {
	// InputPipeOptions 接收管道参数
	//
	// PauseWriterThreshold 为正时同时决定通道接收窗口。
	InputPipeOptions *pipe.Options

	// OutputPipeOptions 发送管道参数
	OutputPipeOptions *pipe.Options

	// ExistingPipe 调用方提供的管道
	//
	// 对端数据写入 ExistingPipe.Output()，从 ExistingPipe.Input() 读取待发送数据。
	// 设置后通道自身的 Input/Output/Read/Write 不可用。
	ExistingPipe pipe.Duplex

	// Logger 通道日志，优先于会话的 ChannelLoggerFactory
	Logger *slog.Logger
}

// validate 校验通道选项
func (o *ChannelOptions) validate() error {
	if o == nil {
		return nil
	}
	if o.ExistingPipe != nil && (o.InputPipeOptions != nil || o.OutputPipeOptions != nil) {
		return fmt.Errorf("%w: ExistingPipe cannot be combined with pipe options", ErrInvalidOptions)
	}
	// 接收窗口是阈值减一，阈值为 1 时一个字节就会让读循环在 Flush 上阻塞
	if in := o.InputPipeOptions; in != nil && in.PauseWriterThreshold == 1 {
		return fmt.Errorf("%w: input PauseWriterThreshold must be 0 or at least 2", ErrInvalidOptions)
	}
	return nil
}

// receivingWindow 计算通道接收窗口
func (o *ChannelOptions) receivingWindow(def int64) int64 {
	if o != nil && o.InputPipeOptions != nil && o.InputPipeOptions.PauseWriterThreshold > 0 {
		return o.InputPipeOptions.PauseWriterThreshold
	}
	return def
}
