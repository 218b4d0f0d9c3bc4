package modelcache

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/model-hub/internal/manifest"
	"github.com/any-hub/model-hub/internal/progress"
)

// PreloadReport 汇总一次预热。预热本身不返回错误，失败条目记录在 Failed 中。
type PreloadReport struct {
	Total      int              `json:"total"`
	Cached     int              `json:"cached"`
	Downloaded int              `json:"downloaded"`
	Skipped    int              `json:"skipped"`
	Failed     []PreloadFailure `json:"failed"`
}

// PreloadFailure 记录单个失败资源。
type PreloadFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// PreloadAll 依次确保清单中的资源都已缓存。每完成一个资源（成功或失败）按
// finished/total*100 上报一次聚合进度；空清单直接上报 100。
// ctx 取消后不再调度新的资源，已调度的资源仍会结束，未调度数量计入 Skipped。
func (o *Orchestrator) PreloadAll(ctx context.Context, m *manifest.Manifest, onAggregate progress.Func) PreloadReport {
	total := m.Len()
	report := PreloadReport{Total: total, Failed: []PreloadFailure{}}
	if total == 0 {
		progress.Done(onAggregate)
		return report
	}

	var (
		mu       sync.Mutex
		finished int
	)
	finish := func(record func()) {
		mu.Lock()
		defer mu.Unlock()
		record()
		finished++
		if onAggregate != nil {
			onAggregate(float64(finished*100) / float64(total))
		}
	}

	var g errgroup.Group
	g.SetLimit(o.preloadConcurrency)
	for i, url := range m.Assets {
		if ctx.Err() != nil {
			mu.Lock()
			report.Skipped = total - i
			mu.Unlock()
			break
		}
		url := url
		g.Go(func() error {
			if o.store.Has(ctx, url) {
				finish(func() { report.Cached++ })
				return nil
			}
			if _, err := o.Request(ctx, url, nil); err != nil {
				o.log.WithError(err).WithField("url", url).Warn("preload_asset_failed")
				finish(func() {
					report.Failed = append(report.Failed, PreloadFailure{URL: url, Error: err.Error()})
				})
				return nil
			}
			finish(func() { report.Downloaded++ })
			return nil
		})
	}
	_ = g.Wait()

	o.log.WithFields(logrus.Fields{
		"total":      report.Total,
		"cached":     report.Cached,
		"downloaded": report.Downloaded,
		"failed":     len(report.Failed),
		"skipped":    report.Skipped,
	}).Info("preload_complete")
	return report
}
