// Package interfaces 定义多路复用模块的公共接口
//
// 接口文件与实现目录一一对应：
//   - muxer.go          - 会话与通道契约（internal/core/mxstream）
//
// 实现包通过编译期断言保证满足接口：
//
//	var _ interfaces.MuxedChannel = (*Channel)(nil)
package interfaces
