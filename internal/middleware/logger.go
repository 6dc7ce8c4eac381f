package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/scroll-tech/rpc-auth-proxy/pkg/logger"
)

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		latency := time.Since(start)

		logger.Info("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"latency", latency.Milliseconds(),
			"ip", c.IP(),
			"request_id", c.Locals("requestid"),
			"identity", IdentityFromCtx(c).Kind.String(),
		)

		return err
	}
}
