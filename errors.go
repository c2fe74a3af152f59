package mxstream

import (
	"errors"

	mux "github.com/ericdotnet/Streams-Nerdbank-pro/internal/core/mxstream"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 会话与通道错误（与内部实现共用同一实例，可用 errors.Is 判断）
	// ────────────────────────────────────────────────────────────────────────

	// ErrProtocolViolation 对端违反帧协议
	ErrProtocolViolation = mux.ErrProtocolViolation

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = mux.ErrSessionClosed

	// ErrChannelDisposed 通道已释放
	ErrChannelDisposed = mux.ErrChannelDisposed

	// ErrChannelRejected 对端拒绝了提议
	ErrChannelRejected = mux.ErrChannelRejected

	// ErrOfferCanceled 提议方撤销了提议
	ErrOfferCanceled = mux.ErrOfferCanceled

	// ErrChannelNotFound 通道不存在
	ErrChannelNotFound = mux.ErrChannelNotFound

	// ErrInvalidOptions 选项无效
	ErrInvalidOptions = mux.ErrInvalidOptions

	// ErrUnsupportedWithExistingPipe 使用调用方管道时不支持该操作
	ErrUnsupportedWithExistingPipe = mux.ErrUnsupportedWithExistingPipe

	// ────────────────────────────────────────────────────────────────────────
	// 门面错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrClosed Multiplexer 已关闭
	ErrClosed = errors.New("mxstream: multiplexer closed")
)
