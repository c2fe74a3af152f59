// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载和保存配置
//   - 支持预设配置（default/throughput/low-memory/legacy）
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Multiplexing.DefaultChannelReceivingWindowSize = 1 << 20
//
//	// 应用预设到现有配置
//	config.ApplyPreset(cfg, "throughput")
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

// Config 是多路复用会话的完整配置结构
//
// 配置按照功能模块组织：
//   - Multiplexing: 会话与通道参数（窗口、协议版本、发送速率）
//   - Metrics: 流量统计
//   - Log: 日志输出
//   - Diagnostics: 指标 HTTP 端点
type Config struct {
	// Multiplexing 多路复用配置
	Multiplexing MultiplexingConfig `json:"multiplexing"`

	// Metrics 流量统计配置
	Metrics MetricsConfig `json:"metrics"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// Diagnostics 诊断服务配置
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
func NewConfig() *Config {
	return &Config{
		Multiplexing: DefaultMultiplexingConfig(),
		Metrics:      DefaultMetricsConfig(),
		Log:          DefaultLogConfig(),
		Diagnostics:  DefaultDiagnosticsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置是否有效，如果发现无效配置则返回错误。
func (c *Config) Validate() error {
	if err := c.Multiplexing.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
