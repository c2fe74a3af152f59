package metrics

import (
	"fmt"
	"sync"
	"testing"
)

// ============================================================================
// 并发测试
// ============================================================================

// TestConcurrent_LogMessages 测试并发记录消息
func TestConcurrent_LogMessages(t *testing.T) {
	bwc := NewBandwidthCounter()

	numGoroutines := 100
	numOps := 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines * 2)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				bwc.LogSentMessage(10)
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				bwc.LogRecvMessage(20)
			}
		}()
	}

	wg.Wait()

	stats := bwc.GetBandwidthTotals()
	expectedOut := int64(numGoroutines * numOps * 10)
	expectedIn := int64(numGoroutines * numOps * 20)

	if stats.TotalOut != expectedOut {
		t.Errorf("TotalOut = %d, want %d", stats.TotalOut, expectedOut)
	}
	if stats.TotalIn != expectedIn {
		t.Errorf("TotalIn = %d, want %d", stats.TotalIn, expectedIn)
	}
}

// TestConcurrent_RaceDetection 测试竞态条件
// 运行 go test -race 时检测竞态
func TestConcurrent_RaceDetection(t *testing.T) {
	bwc := NewBandwidthCounter()

	numGoroutines := 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines * 3)

	for i := 0; i < numGoroutines; i++ {
		name := fmt.Sprintf("ch-%d", i%5)

		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				bwc.LogSentMessageChannel(10, name)
				bwc.LogRecvMessageChannel(20, name)
				bwc.LogFrame(DirOut, "Content")
			}
		}()

		go func() {
			defer wg.Done()
			bwc.ChannelOpened()
			bwc.ChannelClosed()
		}()

		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = bwc.GetBandwidthTotals()
				_ = bwc.GetBandwidthForChannel(name)
				_ = bwc.GetBandwidthByChannel()
				_ = bwc.FrameCounts()
			}
		}()
	}

	wg.Wait()

	var total int64
	for _, s := range bwc.GetBandwidthByChannel() {
		total += s.TotalOut
	}
	if total != int64(numGoroutines*20*10) {
		t.Errorf("channel TotalOut sum = %d, want %d", total, numGoroutines*20*10)
	}
	if n := bwc.OpenChannels(); n != 0 {
		t.Errorf("OpenChannels() = %d, want 0", n)
	}
	if n := bwc.FrameCounts()[FrameKey{DirOut, "Content"}]; n != int64(numGoroutines*20) {
		t.Errorf("Content frames = %d, want %d", n, numGoroutines*20)
	}
}
