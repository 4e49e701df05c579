package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pricewatch/aggregator"
	"github.com/use-agent/pricewatch/models"
	"github.com/use-agent/pricewatch/scheduler"
)

// RunTrigger starts a scheduled run on demand.
type RunTrigger interface {
	RunOnce(ctx context.Context) (*scheduler.Summary, error)
}

// URLScraper scrapes one caller-supplied URL.
type URLScraper interface {
	Scrape(ctx context.Context, rawURL, mode string) (*aggregator.SingleResult, error)
}

// Scrape returns a handler for POST /api/v1/scrape.
//
// Runs every configured source now. A run already in progress yields 409
// rather than a second concurrent sweep.
func Scrape(trigger RunTrigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := trigger.RunOnce(c.Request.Context())
		if errors.Is(err, scheduler.ErrRunInProgress) {
			respondError(c, models.NewScrapeError(models.ErrCodeConflict, "a scheduled run is already in progress", nil))
			return
		}
		if sum == nil {
			respondError(c, err)
			return
		}
		// A failed save still returns what was aggregated.

		records := sum.Records
		if records == nil {
			records = []models.PriceRecord{}
		}
		resp := models.PricesResponse{
			Success: true,
			Results: records,
			Total:   len(records),
			Run: &models.RunSummary{
				ID:            sum.ID,
				Sources:       sum.Stats.Sources,
				SourcesFailed: sum.Stats.Failed,
				SourcesCached: sum.Stats.Cached,
				Records:       len(records),
				Saved:         sum.Saved,
				DurationMs:    sum.Duration.Milliseconds(),
			},
		}
		if err != nil {
			var scrapeErr *models.ScrapeError
			if !errors.As(err, &scrapeErr) {
				scrapeErr = models.NewScrapeError(models.ErrCodeStore, "saving records failed", err)
			}
			resp.Error = scrapeErr.ToDetail()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ScrapeURL returns a handler for POST /api/v1/scrape/url.
func ScrapeURL(sc URLScraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), nil))
			return
		}
		req.Defaults()

		res, err := sc.Scrape(c.Request.Context(), req.URL, req.Mode)
		if err != nil {
			respondError(c, err)
			return
		}

		records := res.Records
		if records == nil {
			records = []models.PriceRecord{}
		}
		resp := models.PricesResponse{
			Success:    true,
			Results:    records,
			Total:      len(records),
			EngineUsed: res.EngineUsed,
		}
		if res.Cached {
			resp.CacheStatus = "hit"
		}
		c.JSON(http.StatusOK, resp)
	}
}
