package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AssetHandler describes the component serving /assets/* from the model cache.
// It allows injecting fake handlers during tests.
type AssetHandler interface {
	Handle(fiber.Ctx) error
}

// AssetHandlerFunc adapts a function to the AssetHandler interface.
type AssetHandlerFunc func(fiber.Ctx) error

// Handle makes AssetHandlerFunc satisfy AssetHandler.
func (f AssetHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	// Assets 为空时 /assets/* 返回 404 assets_not_configured。
	Assets     AssetHandler
	ListenPort int
}

const contextKeyRequestID = "_modelhub_request_id"

// NewApp builds a Fiber application with request-id middleware, panic recovery
// and the /assets/* route. Diagnostics routes are attached by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get("/assets/*", func(c fiber.Ctx) error {
		if opts.Assets == nil {
			return renderAssetsUnconfigured(c, opts.Logger)
		}
		return opts.Assets.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderAssetsUnconfigured(c fiber.Ctx, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action":     "assets",
		"path":       c.Path(),
		"request_id": RequestID(c),
	}).Warn("assets_not_configured")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "assets_not_configured",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
