package ratelimit

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_DeniesAfterMax(t *testing.T) {
	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rejected_total"})
	app := fiber.New()
	app.Use(Middleware(MiddlewareConfig{
		Limiter:  New(NewMemoryStore(), time.Minute, 2),
		KeyFunc:  func(c *fiber.Ctx) string { return c.Get("X-Client") },
		Rejected: rejected,
	}))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set("X-Client", "a")
		res, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, res.StatusCode)
		assert.Equal(t, "2", res.Header.Get("X-RateLimit-Limit"))
	}

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Client", "a")
	res, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))

	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "Too many requests", body.Error)
	assert.LessOrEqual(t, body.RetryAfter, 60)
	assert.Equal(t, float64(1), testutil.ToFloat64(rejected))

	// a different client still gets through
	req = httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Client", "b")
	res, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, res.StatusCode)
}

func TestMiddleware_FailsOpenOnStoreError(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(MiddlewareConfig{Limiter: New(failingStore{}, time.Minute, 1)}))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	for i := 0; i < 3; i++ {
		res, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, res.StatusCode)
	}
}
