package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/model-hub/internal/logging"
	"github.com/any-hub/model-hub/internal/progress"
	"github.com/any-hub/model-hub/internal/speed"
)

const chunkSize = 32 * 1024

// Source 表示 payload 的来源。
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
)

// Result 是一次成功获取的结果。Payload 视为只读。
type Result struct {
	URL     string
	Payload []byte
	Source  Source
}

// Lookup 是 Downloader 用于快速路径和失败回退的只读缓存视图，cache.Store 满足该接口。
type Lookup interface {
	Has(ctx context.Context, key string) bool
	Get(ctx context.Context, key string) ([]byte, error)
}

// Options 配置 Downloader。
type Options struct {
	Client       *http.Client
	Classifier   *speed.Classifier
	Fallback     Lookup
	SampleWindow time.Duration
	// IdleTimeout 为两次收到数据之间的最长间隔，0 表示不限制。
	IdleTimeout  time.Duration
	Logger       *logrus.Logger
	Now          func() time.Time
}

// Downloader 以流式方式拉取大文件，按档位节奏上报进度，并在传输过程中修正档位。
type Downloader struct {
	client       *http.Client
	classifier   *speed.Classifier
	fallback     Lookup
	sampleWindow time.Duration
	idleTimeout  time.Duration
	log          *logrus.Entry
	now          func() time.Time
}

// New 构造 Downloader。Classifier 为空时使用独立的默认测速器。
func New(opts Options) *Downloader {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Classifier == nil {
		opts.Classifier = speed.NewClassifier(nil, speed.Options{Client: opts.Client, Logger: opts.Logger})
	}
	if opts.SampleWindow <= 0 {
		opts.SampleWindow = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Downloader{
		client:       opts.Client,
		classifier:   opts.Classifier,
		fallback:     opts.Fallback,
		sampleWindow: opts.SampleWindow,
		idleTimeout:  opts.IdleTimeout,
		log:          logging.Component(opts.Logger, "download"),
		now:          opts.Now,
	}
}

// Download 获取 url 的完整字节：
//   - fallback 中已有时直接返回，上报一次 100，不发起网络请求；
//   - 否则 HEAD 探测大小后流式 GET，按档位节流上报进度；
//   - 网络失败时回退到 fallback，仍没有则返回 *DownloadError。
func (d *Downloader) Download(ctx context.Context, url string, onProgress progress.Func) (*Result, error) {
	if payload, ok := d.lookup(ctx, url); ok {
		progress.Done(onProgress)
		return &Result{URL: url, Payload: payload, Source: SourceCache}, nil
	}

	started := d.now()
	total := d.probe(ctx, url)
	reporter := progress.NewReporter(onProgress, d.classifier.ProgressInterval())

	payload, err := d.stream(ctx, url, total, reporter)
	if err != nil {
		return d.serveFallback(ctx, url, reporter, err)
	}
	reporter.Complete()

	d.log.WithFields(logrus.Fields{
		"url":        url,
		"bytes":      len(payload),
		"tier":       d.classifier.Tier().String(),
		"elapsed_ms": d.now().Sub(started).Milliseconds(),
	}).Debug("download_streamed")
	return &Result{URL: url, Payload: payload, Source: SourceNetwork}, nil
}

// probe 通过 HEAD 获取 Content-Length；失败或未知时返回 0，进度退化为不确定状态。
func (d *Downloader) probe(ctx context.Context, url string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	speed.SetNoCacheHeaders(req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.WithError(err).WithField("url", url).Debug("download_probe_failed")
		return 0
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		d.log.WithFields(logrus.Fields{
			"url":    url,
			"status": resp.StatusCode,
			"length": resp.ContentLength,
		}).Debug("download_probe_failed")
		return 0
	}
	return resp.ContentLength
}

func (d *Downloader) stream(ctx context.Context, url string, total int64, reporter *progress.Reporter) ([]byte, error) {
	ctx, watchdog := newIdleWatchdog(ctx, d.idleTimeout)
	defer watchdog.stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{URL: url, Stage: StageRequest, Err: err}
	}
	speed.SetNoCacheHeaders(req.Header)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: url, Stage: StageRequest, Err: watchdog.cause(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{URL: url, Stage: StageStatus, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	var (
		chunks   [][]byte
		received int64
		buf      = make([]byte, chunkSize)
		sampler  = newSampler(d.now(), d.sampleWindow)
	)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			watchdog.touch()
			chunks = append(chunks, append([]byte(nil), buf[:n]...))
			received += int64(n)

			if bps, ok := sampler.observe(d.now(), received); ok {
				d.classifier.Revise(bps)
			}
			reporter.Update(received, total, d.classifier.ProgressInterval())
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, &DownloadError{URL: url, Stage: StageStream, Err: watchdog.cause(readErr)}
		}
	}

	payload := make([]byte, 0, received)
	for _, chunk := range chunks {
		payload = append(payload, chunk...)
	}
	return payload, nil
}

// serveFallback 在网络失败后尝试读取缓存副本。
func (d *Downloader) serveFallback(ctx context.Context, url string, reporter *progress.Reporter, cause error) (*Result, error) {
	if payload, ok := d.lookup(ctx, url); ok {
		d.log.WithError(cause).WithField("url", url).Warn("download_served_fallback")
		reporter.Complete()
		return &Result{URL: url, Payload: payload, Source: SourceFallback}, nil
	}
	return nil, cause
}

func (d *Downloader) lookup(ctx context.Context, url string) ([]byte, bool) {
	if d.fallback == nil || !d.fallback.Has(ctx, url) {
		return nil, false
	}
	payload, err := d.fallback.Get(ctx, url)
	if err != nil {
		d.log.WithError(err).WithField("url", url).Warn("cache_get_failed")
		return nil, false
	}
	return payload, true
}

// sampler 每隔 window 计算一次窗口内的瞬时吞吐量。
type sampler struct {
	window    time.Duration
	lastAt    time.Time
	lastBytes int64
}

func newSampler(now time.Time, window time.Duration) *sampler {
	return &sampler{window: window, lastAt: now}
}

func (s *sampler) observe(now time.Time, received int64) (float64, bool) {
	elapsed := now.Sub(s.lastAt)
	if elapsed < s.window {
		return 0, false
	}
	bps, ok := speed.BitsPerSecond(received-s.lastBytes, elapsed)
	s.lastAt = now
	s.lastBytes = received
	return bps, ok
}

// idleWatchdog 在 timeout 内没有数据到达时取消请求上下文。
type idleWatchdog struct {
	ctx     context.Context
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
}

func newIdleWatchdog(parent context.Context, timeout time.Duration) (context.Context, *idleWatchdog) {
	ctx, cancel := context.WithCancelCause(parent)
	w := &idleWatchdog{ctx: ctx, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() { cancel(ErrStalled) })
	}
	return ctx, w
}

func (w *idleWatchdog) touch() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel(nil)
}

// cause 在看门狗触发时用 ErrStalled 替换底层的 context canceled 错误。
func (w *idleWatchdog) cause(err error) error {
	if errors.Is(context.Cause(w.ctx), ErrStalled) {
		return ErrStalled
	}
	return err
}
