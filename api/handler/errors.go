package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pricewatch/models"
)

// respondError maps a ScrapeError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error) {
	var scrapeErr *models.ScrapeError
	if !errors.As(err, &scrapeErr) {
		scrapeErr = models.NewScrapeError(models.ErrCodeInternal, "internal error", err)
	}

	c.JSON(mapErrorToStatus(scrapeErr), models.PricesResponse{
		Success: false,
		Results: []models.PriceRecord{},
		Error:   scrapeErr.ToDetail(),
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodeFetchExhausted, models.ErrCodeBrowserCrash:
		return http.StatusBadGateway // 502
	case models.ErrCodeExtraction, models.ErrCodeLLMFailure, models.ErrCodeLLMAuthFailure, models.ErrCodeLLMRateLimited:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeConflict:
		return http.StatusConflict // 409
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
