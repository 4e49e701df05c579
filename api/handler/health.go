package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pricewatch/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// HealthInfo describes the wiring reported by GET /api/v1/health.
type HealthInfo struct {
	Cache   string
	Store   string
	Sources int

	// Degraded, when set, is polled on every probe. A true result reports
	// status "degraded" with HTTP 200.
	Degraded func() bool
}

// Health returns a handler for GET /api/v1/health.
func Health(info HealthInfo, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if info.Degraded != nil && info.Degraded() {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Cache:   info.Cache,
			Store:   info.Store,
			Sources: info.Sources,
			Version: Version,
		})
	}
}
