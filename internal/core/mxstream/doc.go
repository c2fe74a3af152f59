// Package mxstream 在一个双工字节传输上复用多个独立的双向通道
//
// 每个会话独占一个传输（通常是 net.Conn）：握手确定协议版本和通道 ID 空间，
// 之后一个读循环按顺序分发帧，一个写循环串行写出所有出站帧。
// 通道带有独立的滑动窗口流控，一个通道的背压不会阻塞其他通道。
//
// # 快速开始
//
//	s, _ := mxstream.NewSession(ctx, conn, mxstream.DefaultOptions())
//	defer s.Close()
//
//	// 提议方
//	ch, _ := s.OfferChannel(ctx, "logs", nil)
//	ch.Write([]byte("hello"))
//	ch.CloseWrite()
//
//	// 接受方
//	ch, _ := s.AcceptChannelByName(ctx, "logs", nil)
//	data, _ := io.ReadAll(ch)
//
// # 帧格式
//
// 帧头为 [code u8][channel id u32][payload length u32]（大端），
// 负载不超过 FramePayloadMaxLength。控制码见 ControlCode。
//
// # 流控
//
// 协议主版本 2 启用窗口：发送方最多有对端窗口大小的未确认字节，
// 接收方在调用方消费数据后发送 ContentProcessed 释放窗口。
// 版本 1 不发送确认也不限制发送。
//
// # 通道生命周期
//
//	Offer -> OfferAccepted -> Content... -> ContentWritingCompleted / ChannelTerminated
//	Offer -> OfferRejected
//	Offer -> OfferCanceled
//
// 两个方向都结束后通道自动关闭。
package mxstream
