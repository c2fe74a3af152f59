package config

import (
	"errors"
	"time"
)

// MetricsConfig 流量统计配置
//
// 配置会话流量统计，按通道名称和控制码分类。
type MetricsConfig struct {
	// Enabled 是否启用流量统计
	// 默认值: true
	Enabled bool `json:"enabled"`

	// TrimIdleInterval 清理空闲通道统计的间隔
	// 默认值: 1m
	TrimIdleInterval Duration `json:"trim_idle_interval"`

	// IdleTimeout 空闲超时，超过此时间的通道统计会被清理
	// 默认值: 5m
	IdleTimeout Duration `json:"idle_timeout"`
}

// DefaultMetricsConfig 返回默认的流量统计配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:          true,
		TrimIdleInterval: Duration(time.Minute),
		IdleTimeout:      Duration(5 * time.Minute),
	}
}

// Validate 验证流量统计配置的有效性
func (c MetricsConfig) Validate() error {
	if c.TrimIdleInterval < 0 || c.IdleTimeout < 0 {
		return errors.New("metrics: durations must not be negative")
	}
	return nil
}
