package speed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/model-hub/internal/logging"
)

// Options 控制 Classifier 的阈值、采样量与节奏。零值字段使用默认值。
type Options struct {
	Thresholds      Thresholds
	Intervals       Intervals
	MeasureInterval time.Duration
	SampleBytes     int64
	// Timeout 限制单次测速的总耗时，0 表示不限制。
	Timeout         time.Duration
	Client          *http.Client
	Logger          *logrus.Logger
	Now             func() time.Time
}

// Classifier 通过计时请求估算吞吐量并维护共享 State。
type Classifier struct {
	state           *State
	thresholds      Thresholds
	intervals       Intervals
	measureInterval time.Duration
	sampleBytes     int64
	timeout         time.Duration
	client          *http.Client
	log             *logrus.Entry
	now             func() time.Time
}

// NewClassifier 构造测速器；state 为空时创建独立状态，便于测试隔离。
func NewClassifier(state *State, opts Options) *Classifier {
	if state == nil {
		state = NewState()
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Intervals == (Intervals{}) {
		opts.Intervals = DefaultIntervals()
	}
	if opts.MeasureInterval <= 0 {
		opts.MeasureInterval = 5 * time.Minute
	}
	if opts.SampleBytes <= 0 {
		opts.SampleBytes = 256 * 1024
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Classifier{
		state:           state,
		thresholds:      opts.Thresholds,
		intervals:       opts.Intervals,
		measureInterval: opts.MeasureInterval,
		sampleBytes:     opts.SampleBytes,
		timeout:         opts.Timeout,
		client:          opts.Client,
		log:             logging.Component(opts.Logger, "speed"),
		now:             opts.Now,
	}
}

// State 返回共享状态。
func (c *Classifier) State() *State {
	return c.state
}

// Tier 返回当前档位。
func (c *Classifier) Tier() Tier {
	return c.state.Tier()
}

// Thresholds 返回分档阈值。
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// ProgressInterval 返回当前档位下进度回调的最小间隔。
func (c *Classifier) ProgressInterval() time.Duration {
	return c.intervals.For(c.state.Tier())
}

// Measure 对 url 发起一次计时的区间请求并更新档位。距离上次测速不足
// MeasureInterval 时直接返回当前档位；任何失败都只记录 warning 并保留原档位。
func (c *Classifier) Measure(ctx context.Context, url string) Tier {
	if !c.state.Stale(c.now(), c.measureInterval) {
		return c.state.Tier()
	}

	n, elapsed, err := c.sample(ctx, url)
	if err != nil {
		c.log.WithError(err).WithField("url", url).Warn("speed_measure_failed")
		return c.state.Tier()
	}

	tier, ok := c.Record(n, elapsed)
	if !ok {
		c.log.WithFields(logrus.Fields{
			"url":        url,
			"bytes":      n,
			"elapsed_ms": elapsed.Milliseconds(),
		}).Warn("speed_measure_failed")
	}
	return tier
}

// Record 根据一次完整测速的字节数与耗时更新档位和测速时间。
// 字节数或耗时为 0 时不更新，返回 false。
func (c *Classifier) Record(n int64, elapsed time.Duration) (Tier, bool) {
	bps, ok := BitsPerSecond(n, elapsed)
	if !ok {
		return c.state.Tier(), false
	}
	tier := c.thresholds.Classify(bps)
	prev := c.state.Set(tier)
	c.state.markMeasured(c.now())
	c.log.WithFields(logrus.Fields{
		"bps":       int64(bps),
		"tier":      tier.String(),
		"prev_tier": prev.String(),
	}).Debug("speed_measured")
	return tier, true
}

// Revise 依据下载过程中的瞬时吞吐立即调整档位：低于 slow 阈值降为 slow，
// 高于 fast 阈值升为 fast，两者之间保持不变。不刷新测速时间。
func (c *Classifier) Revise(bps float64) (Tier, bool) {
	var next Tier
	switch {
	case bps < c.thresholds.Slow:
		next = Slow
	case bps > c.thresholds.Fast:
		next = Fast
	default:
		return c.state.Tier(), false
	}
	prev := c.state.Set(next)
	if prev == next {
		return next, false
	}
	c.log.WithFields(logrus.Fields{
		"bps":       int64(bps),
		"tier":      next.String(),
		"prev_tier": prev.String(),
	}).Info("speed_tier_revised")
	return next, true
}

func (c *Classifier) sample(ctx context.Context, url string) (int64, time.Duration, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	SetNoCacheHeaders(req.Header)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", c.sampleBytes-1))

	started := c.now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, c.sampleBytes))
	if err != nil {
		return n, 0, err
	}
	return n, c.now().Sub(started), nil
}

// BitsPerSecond 计算 n 字节在 elapsed 内的吞吐量；无法计算时返回 false。
func BitsPerSecond(n int64, elapsed time.Duration) (float64, bool) {
	if n <= 0 || elapsed <= 0 {
		return 0, false
	}
	return float64(n) * 8 / elapsed.Seconds(), true
}

// SetNoCacheHeaders 设置绕过中间缓存的请求头。
func SetNoCacheHeaders(h http.Header) {
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
}
