package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FromJSON 从 JSON 数据创建配置
//
// 未出现的字段保留默认值。
//
// 示例 JSON:
//
//	{
//	  "multiplexing": {"default_channel_receiving_window_size": 1048576, "protocol_major_version": 2},
//	  "metrics": {"enabled": true, "idle_timeout": "10m"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// ToJSON 把配置序列化为带缩进的 JSON
func ToJSON(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// ApplyPreset 应用预设配置
//
// 支持的预设：
//   - "default": 默认值
//   - "throughput": 大窗口，适合大块数据传输
//   - "low-memory": 小窗口，限制每通道缓冲
//   - "legacy": 协议版本 1，无流控确认
func ApplyPreset(cfg *Config, presetName string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch presetName {
	case "default":
		cfg.Multiplexing = DefaultMultiplexingConfig()
		return nil
	case "throughput":
		return applyThroughputPreset(cfg)
	case "low-memory":
		return applyLowMemoryPreset(cfg)
	case "legacy":
		cfg.Multiplexing.ProtocolMajorVersion = 1
		return nil
	case "":
		// 空预设，不做任何操作
		return nil
	default:
		return fmt.Errorf("unknown preset: %s", presetName)
	}
}

// applyThroughputPreset 吞吐优先
func applyThroughputPreset(cfg *Config) error {
	cfg.Multiplexing.DefaultChannelReceivingWindowSize = 16 * 1024 * 1024
	cfg.Multiplexing.ProtocolMajorVersion = 2
	cfg.Multiplexing.MaxSendRate = 0
	return nil
}

// applyLowMemoryPreset 内存优先
func applyLowMemoryPreset(cfg *Config) error {
	cfg.Multiplexing.DefaultChannelReceivingWindowSize = 256 * 1024
	cfg.Multiplexing.ProtocolMajorVersion = 2
	cfg.Multiplexing.OfferEventBuffer = 16
	cfg.Metrics.IdleTimeout = Duration(time.Minute)
	return nil
}

// CloneConfig 克隆配置
//
// 所有子配置都是值类型，浅拷贝即为深拷贝。
func CloneConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	return &cloned
}
