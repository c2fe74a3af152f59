// Package log 提供 mxstream 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，提供组件级 logger 与 tracing sink。
// 直接使用，无需抽象接口。
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// root 保存当前默认 logger，组件 logger 每次调用时读取
var root atomic.Pointer[slog.Logger]

// SetDefault 设置默认 logger
func SetDefault(l *slog.Logger) {
	if l == nil {
		return
	}
	root.Store(l)
	slog.SetDefault(l)
}

// Default 返回默认 logger
func Default() *slog.Logger {
	return root.Load()
}

// New 创建文本格式的 logger
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON 创建 JSON 格式的 logger
func NewJSON(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard 返回丢弃所有输出的 logger
//
// 用于测试或需要完全静默的通道。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelError + 1}))
}

// SetOutputWithLevel 同时设置日志输出目标和级别
//
// 示例：
//
//	file, _ := os.OpenFile("mxcat.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutputWithLevel(file, slog.LevelDebug)
func SetOutputWithLevel(w io.Writer, level slog.Level) {
	SetDefault(New(w, level))
}

// SetLevel 设置日志级别（输出到 stderr）
func SetLevel(level slog.Level) {
	SetDefault(New(os.Stderr, level))
}

// ParseLevel 解析 "debug" / "info" / "warn" / "error"
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载的组件 logger
//
// 每次日志调用时都读取当前默认 logger，支持运行时切换输出目标。
//
//	var logger = log.Logger("core/mxstream")
//	logger.Debug("帧已发送", "code", code)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) current() *slog.Logger {
	return Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.current().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.current().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.current().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.current().Error(msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.current().DebugContext(ctx, msg, args...)
}

// Enabled 报告当前默认 logger 是否会输出指定级别
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return Default().Enabled(context.Background(), level)
}

// With 返回绑定了额外属性的 *slog.Logger
//
// 返回值是固定的 sink，不再跟随默认 logger 变化；
// 会话与通道用它作为各自的 tracing sink。
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.current().With(args...)
}

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

func init() {
	root.Store(New(os.Stderr, LevelInfo))
}
