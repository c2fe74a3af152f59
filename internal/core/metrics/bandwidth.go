package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// AnonymousChannel 匿名通道的统计键
const AnonymousChannel = "(anonymous)"

// channelCounter 单个通道名称的计数
type channelCounter struct {
	in      atomic.Int64
	out     atomic.Int64
	inRate  *RateMeter
	outRate *RateMeter
}

// BandwidthCounter 带宽计数器
//
// BandwidthCounter 跟踪会话在传输层和各通道上发送和接收的数据。
// 使用原子操作实现并发安全的计数器。
type BandwidthCounter struct {
	clk clock.Clock

	// 全局计数器（使用 atomic）
	totalIn  atomic.Int64
	totalOut atomic.Int64

	// 速率计算器
	totalInRate  *RateMeter
	totalOutRate *RateMeter

	// 通道级计数器
	channelMu sync.RWMutex
	channels  map[string]*channelCounter

	// 帧计数
	frameMu sync.Mutex
	frames  map[FrameKey]int64

	openChannels atomic.Int64
}

// NewBandwidthCounter 创建新的 BandwidthCounter
func NewBandwidthCounter() *BandwidthCounter {
	return NewBandwidthCounterWithClock(clock.New())
}

// NewBandwidthCounterWithClock 使用指定时钟创建 BandwidthCounter
func NewBandwidthCounterWithClock(clk clock.Clock) *BandwidthCounter {
	return &BandwidthCounter{
		clk:          clk,
		totalInRate:  NewRateMeterWithClock(clk),
		totalOutRate: NewRateMeterWithClock(clk),
		channels:     make(map[string]*channelCounter),
		frames:       make(map[FrameKey]int64),
	}
}

// LogSentMessage 记录出站字节数
func (bwc *BandwidthCounter) LogSentMessage(size int64) {
	bwc.totalOut.Add(size)
	bwc.totalOutRate.Add(size)
}

// LogRecvMessage 记录入站字节数
func (bwc *BandwidthCounter) LogRecvMessage(size int64) {
	bwc.totalIn.Add(size)
	bwc.totalInRate.Add(size)
}

// channel 获取或创建通道计数
func (bwc *BandwidthCounter) channel(name string) *channelCounter {
	if name == "" {
		name = AnonymousChannel
	}

	bwc.channelMu.RLock()
	c := bwc.channels[name]
	bwc.channelMu.RUnlock()
	if c != nil {
		return c
	}

	bwc.channelMu.Lock()
	defer bwc.channelMu.Unlock()
	if c = bwc.channels[name]; c == nil {
		c = &channelCounter{
			inRate:  NewRateMeterWithClock(bwc.clk),
			outRate: NewRateMeterWithClock(bwc.clk),
		}
		bwc.channels[name] = c
	}
	return c
}

// LogSentMessageChannel 记录通道发送的内容字节数
func (bwc *BandwidthCounter) LogSentMessageChannel(size int64, name string) {
	c := bwc.channel(name)
	c.out.Add(size)
	c.outRate.Add(size)
}

// LogRecvMessageChannel 记录通道接收的内容字节数
func (bwc *BandwidthCounter) LogRecvMessageChannel(size int64, name string) {
	c := bwc.channel(name)
	c.in.Add(size)
	c.inRate.Add(size)
}

// LogFrame 记录一个帧
func (bwc *BandwidthCounter) LogFrame(dir Direction, code string) {
	bwc.frameMu.Lock()
	bwc.frames[FrameKey{Direction: dir, Code: code}]++
	bwc.frameMu.Unlock()
}

// ChannelOpened 记录通道打开
func (bwc *BandwidthCounter) ChannelOpened() {
	bwc.openChannels.Add(1)
}

// ChannelClosed 记录通道关闭
func (bwc *BandwidthCounter) ChannelClosed() {
	bwc.openChannels.Add(-1)
}

// OpenChannels 返回当前打开的通道数
func (bwc *BandwidthCounter) OpenChannels() int64 {
	return bwc.openChannels.Load()
}

// FrameCounts 返回帧计数快照
func (bwc *BandwidthCounter) FrameCounts() map[FrameKey]int64 {
	bwc.frameMu.Lock()
	defer bwc.frameMu.Unlock()

	result := make(map[FrameKey]int64, len(bwc.frames))
	for k, v := range bwc.frames {
		result[k] = v
	}
	return result
}

// GetBandwidthForChannel 返回通道带宽统计
func (bwc *BandwidthCounter) GetBandwidthForChannel(name string) Stats {
	if name == "" {
		name = AnonymousChannel
	}
	bwc.channelMu.RLock()
	c := bwc.channels[name]
	bwc.channelMu.RUnlock()

	if c == nil {
		return Stats{}
	}
	return c.stats()
}

func (c *channelCounter) stats() Stats {
	return Stats{
		TotalIn:  c.in.Load(),
		TotalOut: c.out.Load(),
		RateIn:   c.inRate.Rate(),
		RateOut:  c.outRate.Rate(),
	}
}

// GetBandwidthTotals 返回总带宽统计
func (bwc *BandwidthCounter) GetBandwidthTotals() Stats {
	return Stats{
		TotalIn:  bwc.totalIn.Load(),
		TotalOut: bwc.totalOut.Load(),
		RateIn:   bwc.totalInRate.Rate(),  // 真实速率（字节/秒）
		RateOut:  bwc.totalOutRate.Rate(), // 真实速率（字节/秒）
	}
}

// GetBandwidthByChannel 返回所有通道带宽统计
func (bwc *BandwidthCounter) GetBandwidthByChannel() map[string]Stats {
	bwc.channelMu.RLock()
	defer bwc.channelMu.RUnlock()

	result := make(map[string]Stats, len(bwc.channels))
	for name, c := range bwc.channels {
		result[name] = c.stats()
	}
	return result
}

// Reset 清除所有统计（打开通道数除外）
func (bwc *BandwidthCounter) Reset() {
	bwc.totalIn.Store(0)
	bwc.totalOut.Store(0)
	bwc.totalInRate.Reset()
	bwc.totalOutRate.Reset()

	bwc.channelMu.Lock()
	bwc.channels = make(map[string]*channelCounter)
	bwc.channelMu.Unlock()

	bwc.frameMu.Lock()
	bwc.frames = make(map[FrameKey]int64)
	bwc.frameMu.Unlock()
}

// TrimIdle 清理空闲统计
func (bwc *BandwidthCounter) TrimIdle(since time.Time) {
	bwc.channelMu.Lock()
	defer bwc.channelMu.Unlock()

	for name, c := range bwc.channels {
		if c.inRate.LastUpdate().Before(since) && c.outRate.LastUpdate().Before(since) {
			delete(bwc.channels, name)
		}
	}
}
