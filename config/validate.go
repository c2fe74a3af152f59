package config

import (
	"errors"
	"fmt"
)

// ValidateAll 验证整个配置的有效性
//
// 这是 Config.Validate() 的别名，提供更明确的语义。
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// ValidateAndFix 验证配置并尝试自动修复常见问题
//
// 可修复的问题示例：
//   - 接收窗口非正 -> 使用默认值
//   - 未知协议版本 -> 使用默认值
//   - 负的缓冲或速率 -> 置零
//   - 空的日志级别或格式 -> 使用默认值
func ValidateAndFix(c *Config) (*Config, error) {
	if c == nil {
		return NewConfig(), nil
	}

	def := DefaultMultiplexingConfig()
	if c.Multiplexing.DefaultChannelReceivingWindowSize <= 0 {
		c.Multiplexing.DefaultChannelReceivingWindowSize = def.DefaultChannelReceivingWindowSize
	}
	if c.Multiplexing.ProtocolMajorVersion != 1 && c.Multiplexing.ProtocolMajorVersion != 2 {
		c.Multiplexing.ProtocolMajorVersion = def.ProtocolMajorVersion
	}
	if c.Multiplexing.OfferEventBuffer < 0 {
		c.Multiplexing.OfferEventBuffer = 0
	}
	if c.Multiplexing.MaxSendRate < 0 {
		c.Multiplexing.MaxSendRate = 0
	}
	if c.Multiplexing.HandshakeTimeout < 0 {
		c.Multiplexing.HandshakeTimeout = def.HandshakeTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogConfig().Level
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogConfig().Format
	}

	// 验证修复后的配置
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed after fixes: %w", err)
	}

	return c, nil
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
// 生产代码应使用 Validate() 并处理错误。
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}
}
