package config

import (
	"errors"
	"fmt"
	"time"
)

// MultiplexingConfig 多路复用会话配置
type MultiplexingConfig struct {
	// DefaultChannelReceivingWindowSize 通道默认接收窗口（字节）
	// 默认值: 5MB
	DefaultChannelReceivingWindowSize int64 `json:"default_channel_receiving_window_size"`

	// ProtocolMajorVersion 协议主版本
	// 1: 无流控确认；2: 启用窗口流控
	// 默认值: 2
	ProtocolMajorVersion int `json:"protocol_major_version"`

	// OfferEventBuffer 提议事件缓冲大小
	// 默认值: 64
	OfferEventBuffer int `json:"offer_event_buffer"`

	// MaxSendRate 会话发送速率上限（字节/秒），0 表示不限制
	// 默认值: 0
	MaxSendRate int64 `json:"max_send_rate"`

	// HandshakeTimeout 握手超时
	// 默认值: 10s
	HandshakeTimeout Duration `json:"handshake_timeout"`
}

// DefaultMultiplexingConfig 返回默认的多路复用配置
func DefaultMultiplexingConfig() MultiplexingConfig {
	return MultiplexingConfig{
		DefaultChannelReceivingWindowSize: 5 * 1024 * 1024,
		ProtocolMajorVersion:              2,
		OfferEventBuffer:                  64,
		MaxSendRate:                       0,
		HandshakeTimeout:                  Duration(10 * time.Second),
	}
}

// Validate 验证多路复用配置的有效性
func (c MultiplexingConfig) Validate() error {
	if c.DefaultChannelReceivingWindowSize <= 0 {
		return errors.New("multiplexing: default channel receiving window size must be positive")
	}
	if c.ProtocolMajorVersion != 1 && c.ProtocolMajorVersion != 2 {
		return fmt.Errorf("multiplexing: unsupported protocol major version %d", c.ProtocolMajorVersion)
	}
	if c.OfferEventBuffer < 0 {
		return errors.New("multiplexing: offer event buffer must not be negative")
	}
	if c.MaxSendRate < 0 {
		return errors.New("multiplexing: max send rate must not be negative")
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("multiplexing: handshake timeout must not be negative")
	}
	return nil
}

// WithReceivingWindow 返回设置了接收窗口的副本
func (c MultiplexingConfig) WithReceivingWindow(size int64) MultiplexingConfig {
	c.DefaultChannelReceivingWindowSize = size
	return c
}

// WithMaxSendRate 返回设置了发送速率上限的副本
func (c MultiplexingConfig) WithMaxSendRate(bytesPerSecond int64) MultiplexingConfig {
	c.MaxSendRate = bytesPerSecond
	return c
}
