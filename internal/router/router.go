package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/scroll-tech/rpc-auth-proxy/internal/config"
	"github.com/scroll-tech/rpc-auth-proxy/internal/handlers"
	"github.com/scroll-tech/rpc-auth-proxy/internal/middleware"
	"github.com/scroll-tech/rpc-auth-proxy/internal/services"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/errors"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/jsonrpc"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/logger"
)

// CustomErrorHandler renders errors that escape the handlers as JSON-RPC
// error envelopes. JSON-RPC errors travel in the body, so the HTTP status
// stays 200.
func CustomErrorHandler(c *fiber.Ctx, err error) error {
	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.Internal("Internal error")
	}

	logger.Error("Request error",
		"path", c.Path(),
		"method", c.Method(),
		"error", err.Error(),
		"request_id", c.Locals("requestid"),
	)

	return c.Status(fiber.StatusOK).JSON(jsonrpc.NewError(nil, appErr))
}

func SetupRoutes(app *fiber.App, cfg *config.Config, ring *services.KeyRing, siweService *services.SIWEService, proxyService *services.ProxyService) {
	// Global middleware
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(recover.New())

	// Browser signing UIs are the expected caller; Authorization must be
	// allowed through preflight.
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "POST,OPTIONS",
		AllowHeaders: "Authorization,Content-Type,Accept,Origin",
		MaxAge:       86400,
	}))

	app.Use(middleware.RequestLogger())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	rpcHandler := handlers.NewRPCHandler(siweService, proxyService)
	app.Post("/", middleware.Identity(cfg.AdminKeys, ring), rpcHandler.Handle)
}
