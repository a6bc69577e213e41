package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissing = errors.New("required configuration missing")

// Gateway holds environment-driven configuration for the API gateway.
type Gateway struct {
	Addr      string
	JWTSecret string

	UserServiceURL    string
	ProductServiceURL string
	OrderServiceURL   string
	UpstreamTimeout   time.Duration

	RateLimitWindow    time.Duration
	RateLimitMax       int
	RateLimitRedisAddr string

	ProxyHeader string
}

// OrderService holds environment-driven configuration for the order service.
type OrderService struct {
	Addr           string
	DatabaseURL    string
	DBMaxOpenConns int
	JWTSecret      string

	ProductServiceURL        string
	ProductLookupTimeout     time.Duration
	ProductLookupConcurrency int

	StrictTransitions bool

	AMQPURL      string
	AMQPExchange string
}

// LoadGateway reads the gateway configuration from environment variables.
func LoadGateway() (Gateway, error) {
	var p parser
	cfg := Gateway{
		Addr:               getEnv("GATEWAY_ADDR", ":3000"),
		JWTSecret:          p.required("JWT_SECRET"),
		UserServiceURL:     trimURL(getEnv("USER_SERVICE_URL", "http://localhost:3001")),
		ProductServiceURL:  trimURL(getEnv("PRODUCT_SERVICE_URL", "http://localhost:3002")),
		OrderServiceURL:    trimURL(getEnv("ORDER_SERVICE_URL", "http://localhost:3003")),
		UpstreamTimeout:    p.duration("UPSTREAM_TIMEOUT", 10*time.Second),
		RateLimitWindow:    p.duration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitMax:       p.positiveInt("RATE_LIMIT_MAX", 100),
		RateLimitRedisAddr: os.Getenv("RATE_LIMIT_REDIS_ADDR"),
		ProxyHeader:        os.Getenv("PROXY_HEADER"),
	}
	return cfg, p.err()
}

// LoadOrderService reads the order service configuration from environment variables.
func LoadOrderService() (OrderService, error) {
	var p parser
	cfg := OrderService{
		Addr:                     getEnv("ORDER_SERVICE_ADDR", ":3003"),
		DatabaseURL:              p.required("DATABASE_URL"),
		DBMaxOpenConns:           p.positiveInt("DB_MAX_OPEN_CONNS", 10),
		JWTSecret:                p.required("JWT_SECRET"),
		ProductServiceURL:        trimURL(getEnv("PRODUCT_SERVICE_URL", "http://localhost:3002")),
		ProductLookupTimeout:     p.duration("PRODUCT_LOOKUP_TIMEOUT", 5*time.Second),
		ProductLookupConcurrency: p.positiveInt("PRODUCT_LOOKUP_CONCURRENCY", 4),
		StrictTransitions:        p.boolean("ORDER_STRICT_TRANSITIONS", false),
		AMQPURL:                  os.Getenv("AMQP_URL"),
		AMQPExchange:             getEnv("AMQP_EXCHANGE", "orders.events"),
	}
	return cfg, p.err()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func trimURL(u string) string {
	return strings.TrimRight(u, "/")
}

// parser collects every malformed or missing variable so a single startup
// error lists all of them.
type parser struct {
	errs []error
}

func (p *parser) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		p.errs = append(p.errs, fmt.Errorf("%w: %s", ErrMissing, key))
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: must be a positive duration", key, raw))
		return fallback
	}
	return d
}

func (p *parser) positiveInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw))
		return fallback
	}
	return n
}

func (p *parser) boolean(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: must be a boolean", key, raw))
		return fallback
	}
	return b
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}
