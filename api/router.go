package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pricewatch/api/handler"
	"github.com/use-agent/pricewatch/api/middleware"
	"github.com/use-agent/pricewatch/config"
	"github.com/use-agent/pricewatch/store"
)

// Deps are the services behind the routes.
type Deps struct {
	Prices  store.Reader
	Trigger handler.RunTrigger
	Scraper handler.URLScraper
	Health  handler.HealthInfo
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	Prices:  RateLimit
//	Scrape:  Auth (if enabled) → RateLimit
//
// Health stays outside auth so monitoring probes always work, and reading
// the latest prices is public. ctx bounds the rate limiter's background
// sweep.
func NewRouter(ctx context.Context, deps Deps, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(deps.Health, startTime))

	limit := middleware.RateLimit(ctx, cfg.RateLimit)
	v1.GET("/prices", limit, handler.Prices(deps.Prices))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(limit)

	protected.POST("/scrape", handler.Scrape(deps.Trigger))
	protected.POST("/scrape/url", handler.ScrapeURL(deps.Scraper))

	return r
}
