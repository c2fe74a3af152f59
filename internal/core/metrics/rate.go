package metrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ============================================================================
// RateMeter - 速率计算器
// ============================================================================

// rateBuckets 滑动窗口桶数（每桶 1 秒）
const rateBuckets = 60

// RateMeter 速率计算器（基于滑动窗口）
//
// 使用 60 个 1 秒桶来计算最近 60 秒的平均速率。
type RateMeter struct {
	clk clock.Clock

	mu       sync.RWMutex
	buckets  [rateBuckets]int64 // 60 个 1 秒桶
	lastIdx  int                // 最后写入的桶索引
	lastTime time.Time          // 当前桶的起始时间
	lastAdd  time.Time          // 最后一次 Add 的时间
}

// NewRateMeter 创建速率计算器
func NewRateMeter() *RateMeter {
	return NewRateMeterWithClock(clock.New())
}

// NewRateMeterWithClock 使用指定时钟创建速率计算器
func NewRateMeterWithClock(clk clock.Clock) *RateMeter {
	now := clk.Now()
	return &RateMeter{
		clk:      clk,
		lastTime: now,
		lastAdd:  now,
	}
}

// advanceLocked 把窗口推进到当前时间，调用方持有写锁
func (r *RateMeter) advanceLocked(now time.Time) {
	elapsed := now.Sub(r.lastTime)
	if elapsed < time.Second {
		return
	}

	seconds := int(elapsed / time.Second)
	if seconds >= rateBuckets {
		// 超过 60 秒没有数据
		r.buckets = [rateBuckets]int64{}
		r.lastIdx = 0
	} else {
		for i := 0; i < seconds; i++ {
			r.lastIdx = (r.lastIdx + 1) % rateBuckets
			r.buckets[r.lastIdx] = 0
		}
	}
	// 保留不足 1 秒的余量
	r.lastTime = r.lastTime.Add(time.Duration(seconds) * time.Second)
}

// Add 添加字节数到当前桶
func (r *RateMeter) Add(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	r.advanceLocked(now)
	r.buckets[r.lastIdx] += bytes
	r.lastAdd = now
}

// Rate 返回平均速率（字节/秒）
func (r *RateMeter) Rate() float64 {
	return float64(r.Total()) / rateBuckets
}

// Total 返回窗口内累计量
func (r *RateMeter) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.advanceLocked(r.clk.Now())
	var total int64
	for _, v := range r.buckets {
		total += v
	}
	return total
}

// Reset 重置速率计算器
func (r *RateMeter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets = [rateBuckets]int64{}
	r.lastIdx = 0
	r.lastTime = r.clk.Now()
	r.lastAdd = r.lastTime
}

// LastUpdate 返回最后更新时间
func (r *RateMeter) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastAdd
}
