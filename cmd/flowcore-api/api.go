// Package main provides the flowcore API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/flowork/flowcore/pkg/engine"
	"github.com/flowork/flowcore/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger *slog.Logger
	engine *engine.Engine
}

func NewAPI(logger *slog.Logger, engine *engine.Engine) *API {
	return &API{
		logger: logger,
		engine: engine,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine.Dispatch, a.engine.Registry, a.engine.Store)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowcore API")
	})

	web.Register(app, handlers)

	return app
}

// Start serves the API until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
