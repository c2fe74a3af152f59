package mxstream

import (
	"errors"
	"io"
	"net"

	"github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
)

var (
	// ErrProtocolViolation 对端违反帧协议，会话随之终止
	ErrProtocolViolation = errors.New("mxstream: protocol violation")

	// ErrChannelDisposed 通道已释放
	ErrChannelDisposed = errors.New("mxstream: channel disposed")

	// ErrUnsupportedWithExistingPipe 通道使用调用方提供的管道时不支持该操作
	ErrUnsupportedWithExistingPipe = errors.New("mxstream: not supported when the channel uses an existing pipe")

	// ErrChannelRejected 对端拒绝了提议
	ErrChannelRejected = errors.New("mxstream: channel offer rejected")

	// ErrOfferCanceled 提议方撤销了提议
	ErrOfferCanceled = errors.New("mxstream: channel offer canceled")

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("mxstream: session closed")

	// ErrInvalidOptions 选项无效
	ErrInvalidOptions = errors.New("mxstream: invalid options")

	// ErrOfferAlreadyResolved 提议已被接受、拒绝或撤销
	ErrOfferAlreadyResolved = errors.New("mxstream: offer already resolved")

	// ErrChannelNotFound 通道不存在
	ErrChannelNotFound = errors.New("mxstream: channel not found")

	// ErrWindowOverrun 对端发送超出窗口的数据或确认
	ErrWindowOverrun = errors.New("mxstream: flow control window overrun")
)

// parseError 把管道和传输层错误转换为包内错误
func parseError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, pipe.ErrReaderCompleted), errors.Is(err, pipe.ErrWriterCompleted):
		return ErrChannelDisposed
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrSessionClosed
	}

	return err
}

// isTransportEOF 判断读循环错误是否为正常的传输结束
func isTransportEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// isProtocolViolation 判断错误是否应终止会话
func isProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}
