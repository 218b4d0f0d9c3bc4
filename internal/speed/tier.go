package speed

import (
	"sync/atomic"
	"time"
)

// Tier 是粗粒度的网络速度档位，只影响进度回调节奏，不影响下载正确性。
type Tier string

const (
	Slow   Tier = "slow"
	Medium Tier = "medium"
	Fast   Tier = "fast"
)

func (t Tier) String() string {
	return string(t)
}

// Thresholds 以 bit/s 为单位划分档位：低于 Slow 为 slow，低于 Fast 为 medium，其余为 fast。
type Thresholds struct {
	Slow float64
	Fast float64
}

// DefaultThresholds 返回 1 Mbps / 5 Mbps 两个分界点。
func DefaultThresholds() Thresholds {
	return Thresholds{Slow: 1_000_000, Fast: 5_000_000}
}

// Classify 将吞吐量映射到档位。
func (t Thresholds) Classify(bps float64) Tier {
	switch {
	case bps < t.Slow:
		return Slow
	case bps < t.Fast:
		return Medium
	default:
		return Fast
	}
}

// Intervals 定义每个档位下进度回调的最小间隔。
type Intervals struct {
	Slow   time.Duration
	Medium time.Duration
	Fast   time.Duration
}

// DefaultIntervals 返回 2s / 1s / 500ms。
func DefaultIntervals() Intervals {
	return Intervals{
		Slow:   2 * time.Second,
		Medium: time.Second,
		Fast:   500 * time.Millisecond,
	}
}

// For 返回档位对应的间隔，未知档位按 medium 处理。
func (i Intervals) For(tier Tier) time.Duration {
	switch tier {
	case Slow:
		return i.Slow
	case Fast:
		return i.Fast
	default:
		return i.Medium
	}
}

// State 保存当前档位与最近一次测速时间。多个下载可并发读写；
// 档位只决定回调节奏，竞争是良性的，因此只用原子变量而不加锁。
// 零值可直接使用，初始档位为 medium。
type State struct {
	tier       atomic.Value // Tier
	measuredAt atomic.Int64 // unix nano，0 表示从未测速
}

// NewState 返回初始档位为 medium 的状态。
func NewState() *State {
	return &State{}
}

// Tier 返回当前档位。
func (s *State) Tier() Tier {
	if v, ok := s.tier.Load().(Tier); ok {
		return v
	}
	return Medium
}

// Set 替换当前档位并返回旧值。
func (s *State) Set(tier Tier) Tier {
	prev := s.tier.Swap(tier)
	if old, ok := prev.(Tier); ok {
		return old
	}
	return Medium
}

// MeasuredAt 返回最近一次测速完成时间，从未测速时为零值。
func (s *State) MeasuredAt() time.Time {
	nanos := s.measuredAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Stale 判断距离上次测速是否已超过 interval。
func (s *State) Stale(now time.Time, interval time.Duration) bool {
	last := s.MeasuredAt()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= interval
}

func (s *State) markMeasured(at time.Time) {
	s.measuredAt.Store(at.UnixNano())
}
