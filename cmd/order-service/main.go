package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/wichananm65/shop-order-platform/internal/auth"
	"github.com/wichananm65/shop-order-platform/internal/config"
	"github.com/wichananm65/shop-order-platform/internal/events"
	"github.com/wichananm65/shop-order-platform/internal/infrastructure/database/postgres"
	"github.com/wichananm65/shop-order-platform/internal/metrics"
	"github.com/wichananm65/shop-order-platform/internal/order"
	"github.com/wichananm65/shop-order-platform/internal/product"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", order.ServiceName)
	slog.SetDefault(log)

	cfg, err := config.LoadOrderService()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := order.EnsureSchema(ctx, db); err != nil {
		log.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	publisher, closePublisher := eventPublisher(ctx, cfg, log)
	defer closePublisher()

	m := metrics.New(order.ServiceName)
	svc := order.NewService(
		order.NewPostgresRepository(db),
		product.NewClient(cfg.ProductServiceURL, cfg.ProductLookupTimeout),
		order.WithPublisher(publisher),
		order.WithLogger(log),
		order.WithLookupTimeout(cfg.ProductLookupTimeout),
		order.WithLookupConcurrency(cfg.ProductLookupConcurrency),
		order.WithStrictTransitions(cfg.StrictTransitions),
		order.WithCounters(
			m.Counter("orders_created_total", "Orders committed."),
			m.Counter("order_product_lookup_failures_total", "Order requests rejected by product validation."),
		),
	)

	app := fiber.New(fiber.Config{ErrorHandler: errorHandler(log)})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${method} ${path} ${latency}\n",
	}))
	app.Use(m.Middleware())

	app.Get("/health", order.HealthHandler(db))
	app.Get("/metrics", m.Handler())

	app.Use(auth.NewVerifier(cfg.JWTSecret).Middleware())
	order.NewHandler(svc).RegisterProtectedRoutes(app)

	go func() {
		log.Info("order service listening", "addr", cfg.Addr, "strict_transitions", cfg.StrictTransitions)
		if err := app.Listen(cfg.Addr); err != nil {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("shutdown", "error", err)
	}
}

func eventPublisher(ctx context.Context, cfg config.OrderService, log *slog.Logger) (events.Publisher, func()) {
	if cfg.AMQPURL == "" {
		log.Info("AMQP_URL not set, order events disabled")
		return events.Nop{}, func() {}
	}

	p, err := events.Dial(ctx, cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		log.Warn("order events disabled", "error", err)
		return events.Nop{}, func() {}
	}
	return p, func() { _ = p.Close() }
}

func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", "path", c.Path(), "request_id", c.GetRespHeader(fiber.HeaderXRequestID), "error", err)
			return c.Status(code).JSON(fiber.Map{"error": "Internal server error"})
		}
		return c.Status(code).JSON(fiber.Map{"error": fe.Message})
	}
}
