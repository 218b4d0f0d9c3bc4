// Package progress turns raw byte counters into a throttled, monotonic
// sequence of percentages that ends with exactly one 100.
package progress

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Func 接收 [0,100] 区间内的进度百分比。
type Func func(percent float64)

// Percent 计算 received/total 的百分比并截断到 [0,100]。total 未知（<=0）时返回 false。
func Percent(received, total int64) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	pct := float64(received) / float64(total) * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, false
	}
	return clamp(pct), true
}

func clamp(pct float64) float64 {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// Reporter 包装一个 Func，保证输出单调不减、不含 NaN，并按 interval 节流。
// interval 可随档位变化在 Update 中动态调整。
type Reporter struct {
	sink Func

	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	last     float64
	emitted  bool
	done     bool
}

// NewReporter 构造节流器；sink 为空时所有调用都是空操作。首个进度会立即输出。
func NewReporter(sink Func, interval time.Duration) *Reporter {
	return &Reporter{
		sink:     sink,
		limiter:  rate.NewLimiter(limitFor(interval), 1),
		interval: interval,
	}
}

// Update 报告已接收字节数。total 未知时不输出中间进度。
func (r *Reporter) Update(received, total int64, interval time.Duration) {
	if r == nil || r.sink == nil {
		return
	}
	pct, ok := Percent(received, total)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	if interval != r.interval {
		r.limiter.SetLimit(limitFor(interval))
		r.interval = interval
	}
	if r.emitted && pct <= r.last {
		return
	}
	if !r.limiter.Allow() {
		return
	}
	r.emit(pct)
}

// Complete 输出终止值 100，不受节流限制；重复调用无效。
func (r *Reporter) Complete() {
	if r == nil || r.sink == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	if r.emitted && r.last >= 100 {
		return
	}
	r.emit(100)
}

func (r *Reporter) emit(pct float64) {
	r.last = pct
	r.emitted = true
	r.sink(pct)
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Done 直接向 sink 输出 100，用于缓存命中等没有流式进度的路径。
func Done(sink Func) {
	if sink != nil {
		sink(100)
	}
}
