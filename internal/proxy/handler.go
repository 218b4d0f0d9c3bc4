package proxy

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/model-hub/internal/download"
	"github.com/any-hub/model-hub/internal/progress"
	"github.com/any-hub/model-hub/internal/server"
)

// Fetcher 是 Handler 依赖的缓存入口，modelcache.Orchestrator 满足该接口。
type Fetcher interface {
	Fetch(ctx context.Context, url string, onProgress progress.Func) (*download.Result, error)
}

// Handler 把 /assets/<path> 映射到 AssetBaseURL 下的模型文件，
// 经由缓存编排器取回完整字节后一次性返回。
type Handler struct {
	cache  Fetcher
	base   *url.URL
	logger *logrus.Logger
}

// NewHandler constructs an asset handler; base must be an absolute http(s) URL.
func NewHandler(cache Fetcher, base *url.URL, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		cache:  cache,
		base:   ensureTrailingSlash(base),
		logger: logger,
	}
}

// Handle 实现 server.AssetHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	rel, ok := cleanAssetPath(c.Params("*"))
	if !ok {
		return h.writeError(c, fiber.StatusBadRequest, "asset_path_invalid")
	}
	target := h.base.ResolveReference(&url.URL{Path: rel}).String()

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := h.cache.Fetch(ctx, target, nil)
	if err != nil {
		h.logResult(target, "", requestID, started, 0, err)
		if errors.Is(err, download.ErrDownloadFailed) {
			return h.writeError(c, fiber.StatusBadGateway, "download_failed")
		}
		return h.writeError(c, fiber.StatusInternalServerError, "internal_error")
	}

	c.Set("Content-Type", contentTypeFor(rel))
	c.Set("X-Model-Hub-Cache-Hit", strconv.FormatBool(result.Source == download.SourceCache))
	c.Set("X-Model-Hub-Source", string(result.Source))
	c.Status(fiber.StatusOK)

	h.logResult(target, string(result.Source), requestID, started, len(result.Payload), nil)
	return c.Send(result.Payload)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(target, source, requestID string, started time.Time, size int, err error) {
	fields := logrus.Fields{
		"action":     "assets",
		"url":        target,
		"source":     source,
		"bytes":      size,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("asset_failed")
		return
	}
	h.logger.WithFields(fields).Info("asset_served")
}

// cleanAssetPath 拒绝空路径与跳出基础目录的 ".." 片段。
func cleanAssetPath(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "/") {
		return "", false
	}
	for _, segment := range strings.Split(raw, "/") {
		if segment == ".." {
			return "", false
		}
	}
	clean := path.Clean(raw)
	if clean == "." {
		return "", false
	}
	return clean, true
}

func contentTypeFor(rel string) string {
	switch strings.ToLower(path.Ext(rel)) {
	case ".glb":
		return "model/gltf-binary"
	case ".gltf":
		return "model/gltf+json"
	default:
		return "application/octet-stream"
	}
}

func ensureTrailingSlash(base *url.URL) *url.URL {
	if base == nil {
		return &url.URL{}
	}
	clone := *base
	if !strings.HasSuffix(clone.Path, "/") {
		clone.Path += "/"
	}
	return &clone
}
