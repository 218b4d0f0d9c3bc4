package modelcache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/model-hub/internal/cache"
	"github.com/any-hub/model-hub/internal/download"
	"github.com/any-hub/model-hub/internal/logging"
	"github.com/any-hub/model-hub/internal/progress"
	"github.com/any-hub/model-hub/internal/speed"
)

// Result 复用下载层的结果类型，Source 区分 cache/network/fallback。
type Result = download.Result

// Options 描述 Orchestrator 的依赖。Store 必填，其余为空时使用默认实现。
type Options struct {
	Store      cache.Store
	Classifier *speed.Classifier
	Downloader *download.Downloader
	Logger     *logrus.Logger

	// Coalesce 为 true 时并发的同 URL 未命中请求共享一次下载。
	Coalesce bool
	// PreloadConcurrency 为预热并发度，默认 1（顺序执行）。
	PreloadConcurrency int
}

// Orchestrator 是对外的缓存入口。
type Orchestrator struct {
	store              cache.Store
	classifier         *speed.Classifier
	downloader         *download.Downloader
	log                *logrus.Entry
	coalesce           bool
	preloadConcurrency int
	group              singleflight.Group
}

// New 组装 Orchestrator。
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("modelcache: store required")
	}
	if opts.Classifier == nil {
		opts.Classifier = speed.NewClassifier(nil, speed.Options{Logger: opts.Logger})
	}
	if opts.Downloader == nil {
		opts.Downloader = download.New(download.Options{
			Classifier: opts.Classifier,
			Fallback:   opts.Store,
			Logger:     opts.Logger,
		})
	}
	if opts.PreloadConcurrency <= 0 {
		opts.PreloadConcurrency = 1
	}
	return &Orchestrator{
		store:              opts.Store,
		classifier:         opts.Classifier,
		downloader:         opts.Downloader,
		log:                logging.Component(opts.Logger, "modelcache"),
		coalesce:           opts.Coalesce,
		preloadConcurrency: opts.PreloadConcurrency,
	}, nil
}

// Request 返回 url 对应的完整字节，onProgress 收到的最后一个值为 100。
func (o *Orchestrator) Request(ctx context.Context, url string, onProgress progress.Func) ([]byte, error) {
	result, err := o.Fetch(ctx, url, onProgress)
	if err != nil {
		return nil, err
	}
	return result.Payload, nil
}

// Fetch 与 Request 相同，但额外返回 payload 的来源。
func (o *Orchestrator) Fetch(ctx context.Context, url string, onProgress progress.Func) (*Result, error) {
	if url == "" {
		return nil, cache.ErrEmptyKey
	}
	if payload, ok := o.cached(ctx, url); ok {
		o.log.WithFields(logging.AssetFields(url, string(download.SourceCache), o.classifier.Tier().String())).
			Debug("cache_hit")
		progress.Done(onProgress)
		return &Result{URL: url, Payload: payload, Source: download.SourceCache}, nil
	}

	if !o.coalesce {
		return o.miss(ctx, url, onProgress)
	}

	// fn 只在发起者的 goroutine 中执行，跟随者从不写 leader。
	leader := false
	v, err, shared := o.group.Do(url, func() (interface{}, error) {
		leader = true
		return o.miss(ctx, url, onProgress)
	})
	if err != nil {
		return nil, err
	}
	if !leader {
		progress.Done(onProgress)
	}
	if shared {
		o.log.WithField("url", url).Debug("download_coalesced")
	}
	return v.(*Result), nil
}

func (o *Orchestrator) miss(ctx context.Context, url string, onProgress progress.Func) (*Result, error) {
	started := time.Now()
	tier := o.classifier.Measure(ctx, url)

	result, err := o.downloader.Download(ctx, url, onProgress)
	if err != nil {
		o.log.WithError(err).WithFields(logging.AssetFields(url, "", tier.String())).Warn("download_failed")
		return nil, err
	}

	if result.Source == download.SourceNetwork {
		if err := o.store.Put(ctx, url, result.Payload); err != nil {
			o.log.WithError(err).WithField("url", url).Warn("cache_put_failed")
		}
	}

	fields := logging.AssetFields(url, string(result.Source), o.classifier.Tier().String())
	fields["bytes"] = len(result.Payload)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	o.log.WithFields(fields).Info("download_complete")
	return result, nil
}

// cached 读取缓存；Has 之后 Get 失败按未命中处理。
func (o *Orchestrator) cached(ctx context.Context, url string) ([]byte, bool) {
	if !o.store.Has(ctx, url) {
		return nil, false
	}
	payload, err := o.store.Get(ctx, url)
	if err != nil {
		o.log.WithError(err).WithField("url", url).Warn("cache_get_failed")
		return nil, false
	}
	return payload, true
}

// ClearAll 清空缓存。
func (o *Orchestrator) ClearAll(ctx context.Context) error {
	if err := o.store.ClearAll(ctx); err != nil {
		return err
	}
	o.log.Info("cache_cleared")
	return nil
}

// Keys 列出已缓存的 URL。
func (o *Orchestrator) Keys(ctx context.Context) ([]string, error) {
	return o.store.ListKeys(ctx)
}

// Tier 返回当前测速档位。
func (o *Orchestrator) Tier() speed.Tier {
	return o.classifier.Tier()
}

// MeasuredAt 返回最近一次完整测速时间，未测速时为零值。
func (o *Orchestrator) MeasuredAt() time.Time {
	return o.classifier.State().MeasuredAt()
}
