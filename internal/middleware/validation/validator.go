// Package validation rejects structurally hostile requests before they
// reach a handler. Domain validation (labels, confidence ranges, URL
// semantics) stays in the services; this layer only guards the transport.
package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/phishguard/backend/pkg/logger"
)

type Config struct {
	MaxBodyBytes int
}

// Middleware enforces JSON bodies on mutating requests and strips requests
// carrying null bytes, which sqlite and the feature extractor both choke on.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 64 * 1024
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Content-Type must be application/json",
			})
		}

		body := c.Body()
		if len(body) > cfg.MaxBodyBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Request body too large",
			})
		}

		if strings.ContainsRune(string(body), '\x00') {
			logger.Warn("Request body contained null bytes",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		return c.Next()
	}
}
