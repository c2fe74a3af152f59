package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/ericdotnet/Streams-Nerdbank-pro/config"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 环境变量名
const (
	envPrefix          = "MXCAT_"
	envReceivingWindow = "RECEIVING_WINDOW"
	envProtocolVersion = "PROTOCOL_VERSION"
	envMaxSendRate     = "MAX_SEND_RATE"
	envLogLevel        = "LOG_LEVEL"
	envMetricsAddr     = "METRICS_ADDR"
	envMetrics         = "METRICS"
)

// loadConfigFile 从 JSON 文件加载配置
func loadConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: 用户指定的配置文件路径是预期行为
	if err != nil {
		return nil, err
	}
	return config.FromJSON(data)
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
// 支持的环境变量（均使用 MXCAT_ 前缀）：
//   - MXCAT_RECEIVING_WINDOW: 通道接收窗口（字节）
//   - MXCAT_PROTOCOL_VERSION: 协议主版本
//   - MXCAT_MAX_SEND_RATE: 发送速率上限（字节/秒）
//   - MXCAT_LOG_LEVEL: 日志级别
//   - MXCAT_METRICS: 启用流量统计
//   - MXCAT_METRICS_ADDR: 指标端点地址，设置后启用端点
//
// 无法解析的数值被忽略。
func applyEnvOverrides(cfg *config.Config) {
	if v, ok := envInt(envReceivingWindow); ok {
		cfg.Multiplexing.DefaultChannelReceivingWindowSize = v
	}
	if v, ok := envInt(envProtocolVersion); ok {
		cfg.Multiplexing.ProtocolMajorVersion = int(v)
	}
	if v, ok := envInt(envMaxSendRate); ok {
		cfg.Multiplexing.MaxSendRate = v
	}
	if v := os.Getenv(envPrefix + envLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(envPrefix + envMetrics); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv(envPrefix + envMetricsAddr); v != "" {
		cfg.Diagnostics.EnableMetricsEndpoint = true
		cfg.Diagnostics.MetricsAddr = strings.TrimSpace(v)
	}
}

// ============================================================================
//                              辅助函数
// ============================================================================

// envInt 读取整数环境变量
func envInt(name string) (int64, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
