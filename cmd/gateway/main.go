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
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/wichananm65/shop-order-platform/internal/auth"
	"github.com/wichananm65/shop-order-platform/internal/config"
	"github.com/wichananm65/shop-order-platform/internal/gateway"
	"github.com/wichananm65/shop-order-platform/internal/metrics"
	"github.com/wichananm65/shop-order-platform/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", gateway.ServiceName)
	slog.SetDefault(log)

	cfg, err := config.LoadGateway()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(gateway.ServiceName)
	store, closeStore := rateLimitStore(ctx, cfg, log)
	defer closeStore()

	app := fiber.New(fiber.Config{
		ProxyHeader:  cfg.ProxyHeader,
		ErrorHandler: errorHandler(log),
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${method} ${path} ${latency}\n",
	}))
	setupCORS(app)
	app.Use(m.Middleware())
	app.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Limiter:  ratelimit.New(store, cfg.RateLimitWindow, cfg.RateLimitMax),
		Logger:   log,
		Rejected: m.Counter("gateway_rate_limited_total", "Requests denied by the rate limiter."),
	}))

	gateway.NewHandler().RegisterPublicRoutes(app)
	app.Get("/metrics", m.Handler())

	dispatcher := gateway.NewDispatcher(gateway.DispatcherConfig{
		Routes: gateway.DefaultRoutes(gateway.Backends{
			User:    cfg.UserServiceURL,
			Product: cfg.ProductServiceURL,
			Order:   cfg.OrderServiceURL,
		}),
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Timeout:  cfg.UpstreamTimeout,
		Logger:   log,
		Failures: m.CounterVec("gateway_upstream_failures_total", "Requests that could not reach a backend.", "backend"),
	})
	dispatcher.Register(app)

	go func() {
		log.Info("api gateway listening", "addr", cfg.Addr)
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

// rateLimitStore picks Redis when configured so every gateway instance
// shares one window, otherwise a process-local store.
func rateLimitStore(ctx context.Context, cfg config.Gateway, log *slog.Logger) (ratelimit.Store, func()) {
	if cfg.RateLimitRedisAddr == "" {
		mem := ratelimit.NewMemoryStore()
		go mem.RunJanitor(ctx, cfg.RateLimitWindow)
		log.Warn("rate limit counters are process-local; each gateway instance admits its own quota")
		return mem, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RateLimitRedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable at startup, limiter fails open until it recovers", "addr", cfg.RateLimitRedisAddr, "error", err)
	}
	return ratelimit.NewRedisStore(client, "gateway:ratelimit"), func() { _ = client.Close() }
}

func setupCORS(app *fiber.App) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	}))
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
