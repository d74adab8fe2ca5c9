// Package api is the HTTP surface of paylink.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"paylink.io/internal/api/handler"
	"paylink.io/internal/api/router"
	"paylink.io/pkg/middleware"
	"paylink.io/pkg/ratelimit"
)

type Config struct {
	Addr           string        `mapstructure:"addr"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout must cover a transfer's submit timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 50
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 100
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 45 * time.Second
	}
}

type Handlers struct {
	Payment *handler.Payment
	Balance *handler.Balance
	Monitor *handler.Monitor
}

// NewRouter builds the gin engine. ctx bounds the rate limiter's janitor.
func NewRouter(ctx context.Context, service string, cfg Config, h Handlers) *gin.Engine {
	cfg.ApplyDefaults()

	store := ratelimit.NewStore(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	// serves /metrics for the default registry, domain metrics included
	p := ginprom.NewPrometheus(service)
	p.Use(r)
	r.Use(
		otelgin.Middleware(service),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api", middleware.RateLimit(store))
	router.Payments(api, h.Payment)
	router.Balances(api, h.Balance)
	router.Monitor(api, h.Monitor)
	return r
}

func NewServer(cfg Config, h http.Handler) *http.Server {
	cfg.ApplyDefaults()
	return &http.Server{
		Addr:           cfg.Addr,
		Handler:        h,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}
