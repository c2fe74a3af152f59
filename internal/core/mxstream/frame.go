package mxstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// ============================================================================
//                              帧格式
// ============================================================================
//
// 帧头（大端）：
//
//	[code u8][channel id u32][payload length u32]
//
// 紧随其后的是 payload length 字节的负载。

const (
	// FrameHeaderSize 帧头字节数
	FrameHeaderSize = 1 + 4 + 4

	// FramePayloadMaxLength 单帧负载上限
	FramePayloadMaxLength = 20 * 1024

	// windowFieldSize 窗口字段字节数（int32）
	windowFieldSize = 4
)

// ControlCode 帧控制码
type ControlCode uint8

const (
	// ControlOffer 提议新通道，负载为名称 + 接收窗口
	ControlOffer ControlCode = 0
	// ControlOfferAccepted 接受提议，负载为接收窗口
	ControlOfferAccepted ControlCode = 1
	// ControlContent 通道数据
	ControlContent ControlCode = 2
	// ControlContentWritingCompleted 对端不再写入
	ControlContentWritingCompleted ControlCode = 3
	// ControlChannelTerminated 通道终止
	ControlChannelTerminated ControlCode = 4
	// ControlContentProcessed 已处理字节数确认，负载为 int32
	ControlContentProcessed ControlCode = 5
	// ControlOfferRejected 拒绝提议
	ControlOfferRejected ControlCode = 6
	// ControlOfferCanceled 提议方撤销提议
	ControlOfferCanceled ControlCode = 7
)

// String 返回控制码名称
func (c ControlCode) String() string {
	switch c {
	case ControlOffer:
		return "Offer"
	case ControlOfferAccepted:
		return "OfferAccepted"
	case ControlContent:
		return "Content"
	case ControlContentWritingCompleted:
		return "ContentWritingCompleted"
	case ControlChannelTerminated:
		return "ChannelTerminated"
	case ControlContentProcessed:
		return "ContentProcessed"
	case ControlOfferRejected:
		return "OfferRejected"
	case ControlOfferCanceled:
		return "OfferCanceled"
	default:
		return fmt.Sprintf("ControlCode(%d)", uint8(c))
	}
}

func (c ControlCode) valid() bool {
	return c <= ControlOfferCanceled
}

// FrameHeader 帧头
type FrameHeader struct {
	Code          ControlCode
	ChannelID     uint32
	PayloadLength int
}

// Encode 把帧头写入 b，b 至少 FrameHeaderSize 字节
func (h FrameHeader) Encode(b []byte) {
	b[0] = byte(h.Code)
	binary.BigEndian.PutUint32(b[1:5], h.ChannelID)
	binary.BigEndian.PutUint32(b[5:9], uint32(h.PayloadLength))
}

// DecodeFrameHeader 从 b 解析帧头
//
// 未知控制码和超长负载视为协议违规。
func DecodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("%w: short frame header (%d bytes)", ErrProtocolViolation, len(b))
	}
	h := FrameHeader{
		Code:      ControlCode(b[0]),
		ChannelID: binary.BigEndian.Uint32(b[1:5]),
	}
	length := binary.BigEndian.Uint32(b[5:9])
	if !h.Code.valid() {
		return h, fmt.Errorf("%w: unknown control code %d", ErrProtocolViolation, b[0])
	}
	if length > FramePayloadMaxLength {
		return h, fmt.Errorf("%w: payload length %d exceeds %d", ErrProtocolViolation, length, FramePayloadMaxLength)
	}
	if h.ChannelID == 0 {
		return h, fmt.Errorf("%w: channel id 0", ErrProtocolViolation)
	}
	h.PayloadLength = int(length)
	return h, nil
}

// frame 待发送的完整帧
type frame struct {
	header  FrameHeader
	payload []byte
}

func newFrame(code ControlCode, id uint32, payload []byte) frame {
	return frame{
		header:  FrameHeader{Code: code, ChannelID: id, PayloadLength: len(payload)},
		payload: payload,
	}
}

// writeTo 写出帧头和负载
func (f frame) writeTo(w io.Writer) error {
	var hdr [FrameHeaderSize]byte
	f.header.Encode(hdr[:])
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.payload) > 0 {
		if _, err := w.Write(f.payload); err != nil {
			return err
		}
	}
	return nil
}

// readFrame 读取一个帧，负载读入 buf（容量至少 FramePayloadMaxLength）
func readFrame(r io.Reader, hdr, buf []byte) (FrameHeader, []byte, error) {
	if _, err := io.ReadFull(r, hdr[:FrameHeaderSize]); err != nil {
		return FrameHeader{}, nil, err
	}
	h, err := DecodeFrameHeader(hdr)
	if err != nil {
		return h, nil, err
	}
	payload := buf[:h.PayloadLength]
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return h, nil, err
	}
	return h, payload, nil
}

// ============================================================================
//                              控制负载
// ============================================================================

// OfferParameters Offer 帧负载
type OfferParameters struct {
	// Name 通道名称，可为空
	Name string

	// RemoteWindowSize 提议方的接收窗口
	RemoteWindowSize int64
}

// AcceptanceParameters OfferAccepted 帧负载
type AcceptanceParameters struct {
	// RemoteWindowSize 接受方的接收窗口
	RemoteWindowSize int64
}

// clampWindow 把窗口限制在 [1, MaxInt32]
func clampWindow(w int64) int64 {
	if w < 1 {
		return 1
	}
	if w > math.MaxInt32 {
		return math.MaxInt32
	}
	return w
}

func putWindow(b []byte, w int64) {
	binary.BigEndian.PutUint32(b, uint32(int32(clampWindow(w))))
}

func readWindow(b []byte) (int64, error) {
	w := int64(int32(binary.BigEndian.Uint32(b)))
	if w < 1 {
		return 0, fmt.Errorf("%w: non-positive window %d", ErrProtocolViolation, w)
	}
	return w, nil
}

// Encode 编码 Offer 负载：[utf8 name][int32 window]
func (p OfferParameters) Encode() []byte {
	b := make([]byte, len(p.Name)+windowFieldSize)
	copy(b, p.Name)
	putWindow(b[len(p.Name):], p.RemoteWindowSize)
	return b
}

// DecodeOfferParameters 解析 Offer 负载
func DecodeOfferParameters(b []byte) (OfferParameters, error) {
	if len(b) < windowFieldSize {
		return OfferParameters{}, fmt.Errorf("%w: offer payload too short (%d bytes)", ErrProtocolViolation, len(b))
	}
	nameLen := len(b) - windowFieldSize
	name := b[:nameLen]
	if !utf8.Valid(name) {
		return OfferParameters{}, fmt.Errorf("%w: channel name is not valid utf-8", ErrProtocolViolation)
	}
	w, err := readWindow(b[nameLen:])
	if err != nil {
		return OfferParameters{}, err
	}
	return OfferParameters{Name: string(name), RemoteWindowSize: w}, nil
}

// Encode 编码 OfferAccepted 负载：[int32 window]
func (p AcceptanceParameters) Encode() []byte {
	b := make([]byte, windowFieldSize)
	putWindow(b, p.RemoteWindowSize)
	return b
}

// DecodeAcceptanceParameters 解析 OfferAccepted 负载
func DecodeAcceptanceParameters(b []byte) (AcceptanceParameters, error) {
	if len(b) != windowFieldSize {
		return AcceptanceParameters{}, fmt.Errorf("%w: acceptance payload must be %d bytes, got %d", ErrProtocolViolation, windowFieldSize, len(b))
	}
	w, err := readWindow(b)
	if err != nil {
		return AcceptanceParameters{}, err
	}
	return AcceptanceParameters{RemoteWindowSize: w}, nil
}

// encodeContentProcessed 编码 ContentProcessed 负载
func encodeContentProcessed(n int64) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(int32(n)))
	return b
}

// decodeContentProcessed 解析 ContentProcessed 负载
func decodeContentProcessed(b []byte) (int64, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: content processed payload must be 4 bytes, got %d", ErrProtocolViolation, len(b))
	}
	n := int64(int32(binary.BigEndian.Uint32(b)))
	if n < 1 {
		return 0, fmt.Errorf("%w: non-positive processed count %d", ErrProtocolViolation, n)
	}
	return n, nil
}
