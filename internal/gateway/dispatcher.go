package gateway

import (
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/wichananm65/shop-order-platform/internal/auth"
)

const DefaultUpstreamTimeout = 10 * time.Second

// DispatcherConfig wires the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Routes   Table
	Verifier *auth.Verifier
	Timeout  time.Duration
	Logger   *slog.Logger
	// Failures counts transport failures per backend service when set.
	Failures *prometheus.CounterVec
}

// Dispatcher forwards requests to backends according to its route table.
// Backend responses are relayed as received; transport failures produce a
// 503 naming the backend. There are no retries.
type Dispatcher struct {
	routes   Table
	verifier *auth.Verifier
	client   *fasthttp.Client
	timeout  time.Duration
	logger   *slog.Logger
	failures *prometheus.CounterVec
	now      func() time.Time
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		routes:   cfg.Routes,
		verifier: cfg.Verifier,
		client: &fasthttp.Client{
			ReadTimeout:              timeout,
			WriteTimeout:             timeout,
			MaxConnWaitTimeout:       timeout,
			NoDefaultUserAgentHeader: true,
			DisablePathNormalizing:   true,
			Dial: func(addr string) (net.Conn, error) {
				return fasthttp.DialTimeout(addr, timeout)
			},
		},
		timeout:  timeout,
		logger:   logger,
		failures: cfg.Failures,
		now:      time.Now,
	}
}

// Register mounts the dispatcher as the catch-all handler. Register it after
// every locally served route.
func (d *Dispatcher) Register(app *fiber.App) {
	app.Use(d.Handle)
}

func (d *Dispatcher) Handle(c *fiber.Ctx) error {
	path := c.Path()
	route, ok := d.routes.Match(path)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Route not found"})
	}

	if route.AuthRequired {
		if _, err := d.verifier.Verify(c.Get(fiber.HeaderAuthorization)); err != nil {
			d.logger.Debug("rejected credential", "path", path, "error", err)
			return auth.Reject(c, err)
		}
	}

	target := route.BaseURL + route.Rewrite(path)
	if q := c.Request().URI().QueryString(); len(q) > 0 {
		target += "?" + string(q)
	}

	c.Request().Header.Set(fiber.HeaderXForwardedFor, forwardedFor(c))
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		c.Request().Header.Set(fiber.HeaderXRequestID, id)
	}

	if err := proxy.DoTimeout(c, target, d.timeout, d.client); err != nil {
		return d.unavailable(c, route, err)
	}
	return nil
}

func (d *Dispatcher) unavailable(c *fiber.Ctx, route Route, err error) error {
	d.logger.Error("upstream unavailable",
		"service", route.Service,
		"method", c.Method(),
		"path", c.OriginalURL(),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		"error", err,
	)
	if d.failures != nil {
		d.failures.WithLabelValues(route.Service).Inc()
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":     "Service Unavailable",
		"message":   route.Service + " service is unavailable",
		"service":   route.Service,
		"timestamp": d.now().UTC().Format(time.RFC3339),
	})
}

func forwardedFor(c *fiber.Ctx) string {
	if prior := c.Get(fiber.HeaderXForwardedFor); prior != "" {
		return prior + ", " + c.IP()
	}
	return c.IP()
}
