// Package lib 包含基础设施工具库
//
// 本目录包含与架构组件无关的通用工具库：
//
//   - log: 基于 log/slog 的组件日志
//   - pipe: 带背压的内存管道（Reader/Writer/Duplex）
//   - wsconn: 把 WebSocket 连接适配为字节流传输
//
// # 与 pkg/ 其他目录的关系
//
// pkg/ 目录包含两类内容：
//
//   - interfaces/: 组件公共接口
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import (
//	    "github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/log"
//	    "github.com/ericdotnet/Streams-Nerdbank-pro/pkg/lib/pipe"
//	)
package lib
