package order

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const ServiceName = "order-service"

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports service liveness and database reachability.
func HealthHandler(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "degraded",
				"service":  ServiceName,
				"database": "down",
			})
		}
		return c.JSON(fiber.Map{"status": "ok", "service": ServiceName, "database": "up"})
	}
}
