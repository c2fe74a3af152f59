package config

// DiagnosticsConfig 诊断服务配置
type DiagnosticsConfig struct {
	// EnableMetricsEndpoint 启用 Prometheus 指标端点
	EnableMetricsEndpoint bool `json:"enable_metrics_endpoint"`

	// MetricsAddr 指标端点监听地址
	// 默认 "127.0.0.1:9464"
	MetricsAddr string `json:"metrics_addr"`
}

// DefaultDiagnosticsConfig 返回默认诊断配置
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		EnableMetricsEndpoint: false, // 默认禁用
		MetricsAddr:           "127.0.0.1:9464",
	}
}
