package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pricewatch/models"
	"github.com/use-agent/pricewatch/store"
)

// Prices returns a handler for GET /api/v1/prices.
//
// Serves the most recent saved run, cheapest first, optionally filtered by
// pharmacy name.
func Prices(reader store.Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q models.PricesQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), nil))
			return
		}
		q.Defaults()

		records, err := reader.Latest(c.Request.Context(), q.Pharmacy, q.Limit)
		if err != nil {
			slog.Error("reading latest prices failed", "error", err)
			respondError(c, err)
			return
		}
		if records == nil {
			records = []models.PriceRecord{}
		}

		c.JSON(http.StatusOK, models.PricesResponse{
			Success: true,
			Results: records,
			Total:   len(records),
		})
	}
}
