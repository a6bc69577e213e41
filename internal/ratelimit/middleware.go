package ratelimit

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// MiddlewareConfig configures the Fiber rate limit middleware.
type MiddlewareConfig struct {
	Limiter *Limiter
	Logger  *slog.Logger
	// KeyFunc derives the client key; defaults to the client IP.
	KeyFunc func(c *fiber.Ctx) string
	// Rejected is incremented for every denied request when set.
	Rejected prometheus.Counter
}

// Middleware admits or rejects each request with 429 Too Many Requests.
func Middleware(cfg MiddlewareConfig) fiber.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		key := keyFunc(c)
		decision, err := cfg.Limiter.Admit(c.UserContext(), key)
		if err != nil {
			logger.Warn("rate limit store unavailable, admitting request", "client", key, "error", err)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limiter.Max()))
		if decision.Allowed {
			return c.Next()
		}

		if cfg.Rejected != nil {
			cfg.Rejected.Inc()
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(decision.RetryAfter))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":      "Too many requests",
			"retryAfter": decision.RetryAfter,
		})
	}
}
