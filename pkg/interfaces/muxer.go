// Package interfaces 定义多路复用会话的公共接口
//
// 本文件定义会话与通道的契约，internal/core/mxstream 提供实现。
package interfaces

import (
	"io"

	"github.com/google/uuid"

	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

// MuxedSession 定义多路复用会话的生命周期接口
//
// 一个会话独占一条双工传输，在其上承载多个通道。
type MuxedSession interface {
	// ID 返回会话标识，仅用于日志和诊断
	ID() uuid.UUID

	// ProtocolMajorVersion 返回协商的协议主版本
	ProtocolMajorVersion() int

	// NumChannels 返回存活的通道数
	NumChannels() int

	// DroppedOfferEvents 返回因缓冲已满而丢弃的提议通知数
	DroppedOfferEvents() int64

	// Completion 在会话完全结束后关闭
	Completion() <-chan struct{}

	// Err 返回导致会话结束的错误，正常关闭时为 nil
	Err() error

	// IsClosed 检查会话是否已关闭
	IsClosed() bool

	// Close 关闭会话及其全部通道
	Close() error
}

// MuxedChannel 定义多路复用通道接口
//
// 通道是会话内的逻辑双工字节流。使用调用方提供的管道时，
// 读写方法返回错误，数据直接在该管道上进出。
type MuxedChannel interface {
	io.ReadWriteCloser

	// ID 返回通道 ID
	ID() uint32

	// Name 返回通道名称，匿名通道为空
	Name() string

	// OfferedLocally 返回通道是否由本端提议
	OfferedLocally() bool

	// IsAccepted 返回提议是否已被接受
	IsAccepted() bool

	// CloseWrite 关闭写端，对端读到 EOF
	CloseWrite() error

	// Input 返回接收方向的管道读端
	Input() (pipe.Reader, error)

	// Output 返回发送方向的管道写端
	Output() (pipe.Writer, error)

	// Completion 在通道完全结束后关闭
	Completion() <-chan struct{}

	// Err 返回导致通道释放的错误
	Err() error

	// IsDisposed 检查通道是否已释放
	IsDisposed() bool

	// IsRemotelyTerminated 检查对端是否已终止通道
	IsRemotelyTerminated() bool
}
