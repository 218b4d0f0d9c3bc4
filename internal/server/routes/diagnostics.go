package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/model-hub/internal/manifest"
	"github.com/any-hub/model-hub/internal/modelcache"
	"github.com/any-hub/model-hub/internal/progress"
	"github.com/any-hub/model-hub/internal/speed"
)

// Diagnostics 是诊断接口依赖的缓存视图，modelcache.Orchestrator 满足该接口。
type Diagnostics interface {
	Keys(ctx context.Context) ([]string, error)
	ClearAll(ctx context.Context) error
	PreloadAll(ctx context.Context, m *manifest.Manifest, onAggregate progress.Func) modelcache.PreloadReport
	Tier() speed.Tier
	MeasuredAt() time.Time
}

// RegisterDiagnosticsRoutes 暴露 /-/cache、/-/preload、/-/speed 诊断接口，供运维查询与维护缓存。
// m 为空时 /-/preload 返回 404。
func RegisterDiagnosticsRoutes(app *fiber.App, diag Diagnostics, m *manifest.Manifest) {
	if app == nil || diag == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		keys, err := diag.Keys(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(fiber.Map{"keys": keys})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		if err := diag.ClearAll(c.UserContext()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_clear_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/preload", func(c fiber.Ctx) error {
		if m == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "manifest_not_configured"})
		}
		return c.JSON(diag.PreloadAll(c.UserContext(), m, nil))
	})

	app.Get("/-/speed", func(c fiber.Ctx) error {
		return c.JSON(encodeSpeed(diag.Tier(), diag.MeasuredAt()))
	})
}

type speedPayload struct {
	Tier       string     `json:"tier"`
	MeasuredAt *time.Time `json:"measured_at"`
}

func encodeSpeed(tier speed.Tier, measuredAt time.Time) speedPayload {
	payload := speedPayload{Tier: tier.String()}
	if !measuredAt.IsZero() {
		at := measuredAt.UTC()
		payload.MeasuredAt = &at
	}
	return payload
}
