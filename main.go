package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/model-hub/internal/cache"
	"github.com/any-hub/model-hub/internal/config"
	"github.com/any-hub/model-hub/internal/download"
	"github.com/any-hub/model-hub/internal/logging"
	"github.com/any-hub/model-hub/internal/manifest"
	"github.com/any-hub/model-hub/internal/modelcache"
	"github.com/any-hub/model-hub/internal/progress"
	"github.com/any-hub/model-hub/internal/proxy"
	"github.com/any-hub/model-hub/internal/server"
	"github.com/any-hub/model-hub/internal/server/routes"
	"github.com/any-hub/model-hub/internal/speed"
	"github.com/any-hub/model-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	preload     bool
	listCache   bool
	clearCache  bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_backend"] = cfg.Global.StorageBackend
		fields["serves_assets"] = cfg.ServesAssets()
		fields["manifest"] = cfg.Global.ManifestPath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config_checked")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 日志 → 存储 → 测速/下载 → 编排器 → 可选预热 → Fiber server，
	// 所有请求共享同一份存储与测速状态。
	store, err := cache.Open(ctx, cache.Options{
		Backend:    cfg.Global.StorageBackend,
		BasePath:   cfg.Global.StoragePath,
		MaxEntries: cfg.Global.MaxEntries,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer store.Close()

	var assets *manifest.Manifest
	if cfg.HasManifest() {
		assets, err = manifest.Load(cfg.Global.ManifestPath)
		if err != nil {
			fmt.Fprintf(stdErr, "加载预热清单失败: %v\n", err)
			return 1
		}
	}

	orchestrator, err := buildOrchestrator(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存编排器失败: %v\n", err)
		return 1
	}

	switch {
	case opts.listCache:
		return listCache(ctx, orchestrator)
	case opts.clearCache:
		if err := orchestrator.ClearAll(ctx); err != nil {
			fmt.Fprintf(stdErr, "清空缓存失败: %v\n", err)
			return 1
		}
		return 0
	case opts.preload:
		if assets == nil {
			fmt.Fprintln(stdErr, "未配置 ManifestPath，无法预热")
			return 1
		}
		return printReport(runPreload(ctx, orchestrator, assets, logger))
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["manifest_assets"] = assets.Len()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("config_loaded")

	if cfg.Preload.OnStartup && assets != nil {
		go runPreload(ctx, orchestrator, assets, logger)
	}

	if err := startHTTPServer(ctx, cfg, orchestrator, assets, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("model-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MODEL_HUB_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.preload, "preload", false, "按 ManifestPath 预热缓存后退出")
	fs.BoolVar(&opts.listCache, "list-cache", false, "列出已缓存的资源 URL 后退出")
	fs.BoolVar(&opts.clearCache, "clear-cache", false, "清空缓存后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MODEL_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path

	return opts, nil
}

func buildOrchestrator(cfg *config.Config, store cache.Store, logger *logrus.Logger) (*modelcache.Orchestrator, error) {
	client := server.NewUpstreamClient(cfg)
	s := cfg.Speed
	classifier := speed.NewClassifier(speed.NewState(), speed.Options{
		Thresholds: speed.Thresholds{Slow: s.SlowThreshold, Fast: s.FastThreshold},
		Intervals: speed.Intervals{
			Slow:   s.SlowInterval.DurationValue(),
			Medium: s.MediumInterval.DurationValue(),
			Fast:   s.FastInterval.DurationValue(),
		},
		MeasureInterval: s.MeasureInterval.DurationValue(),
		SampleBytes:     s.SampleBytes,
		Timeout:         server.UpstreamTimeout(cfg),
		Client:          client,
		Logger:          logger,
	})
	downloader := download.New(download.Options{
		Client:       client,
		Classifier:   classifier,
		Fallback:     store,
		SampleWindow: s.SampleWindow.DurationValue(),
		IdleTimeout:  server.UpstreamTimeout(cfg),
		Logger:       logger,
	})
	return modelcache.New(modelcache.Options{
		Store:              store,
		Classifier:         classifier,
		Downloader:         downloader,
		Logger:             logger,
		Coalesce:           cfg.Global.CoalesceRequests,
		PreloadConcurrency: cfg.Preload.Concurrency,
	})
}

// runPreload 预热清单并把聚合进度以事件流形式写入日志。
func runPreload(ctx context.Context, orchestrator *modelcache.Orchestrator, m *manifest.Manifest, logger *logrus.Logger) modelcache.PreloadReport {
	stream := progress.NewStream(m.Len())
	var report modelcache.PreloadReport
	go func() {
		report = orchestrator.PreloadAll(ctx, m, stream.Func())
		stream.Close(ctx.Err())
	}()

	for event := range stream.Events() {
		entry := logger.WithFields(logrus.Fields{"action": "preload", "percent": event.Percent})
		if event.Err != nil {
			entry.WithError(event.Err).Warn("preload_interrupted")
			continue
		}
		entry.Info("preload_progress")
	}
	return report
}

func listCache(ctx context.Context, orchestrator *modelcache.Orchestrator) int {
	keys, err := orchestrator.Keys(ctx)
	if err != nil {
		fmt.Fprintf(stdErr, "列出缓存失败: %v\n", err)
		return 1
	}
	for _, key := range keys {
		fmt.Fprintln(stdOut, key)
	}
	return 0
}

func printReport(report modelcache.PreloadReport) int {
	enc := json.NewEncoder(stdOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stdErr, "输出预热结果失败: %v\n", err)
		return 1
	}
	return 0
}

func startHTTPServer(ctx context.Context, cfg *config.Config, orchestrator *modelcache.Orchestrator, assets *manifest.Manifest, logger *logrus.Logger) error {
	var handler server.AssetHandler
	if cfg.ServesAssets() {
		base, err := url.Parse(cfg.Global.AssetBaseURL)
		if err != nil {
			return err
		}
		handler = proxy.NewHandler(orchestrator, base, logger)
	}

	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Assets:     handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, orchestrator, assets)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("server_listening")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}
