package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pricewatch/models"
)

// IdentityKey is the gin context key holding the caller's API key.
const IdentityKey = "api_key"

// Auth returns API-key authentication middleware.
//
// Accepts either header:
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// An empty key list rejects every request; disable auth in the config to
// open the routes.
func Auth(apiKeys []string) gin.HandlerFunc {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return func(c *gin.Context) {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "no API keys configured on the server")
		}
	}

	return func(c *gin.Context) {
		key := apiKeyFrom(c)
		if key == "" {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized,
				"missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}
		if !knownKey(keys, key) {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid API key")
			return
		}

		c.Set(IdentityKey, key)
		c.Next()
	}
}

func knownKey(keys [][]byte, key string) bool {
	candidate := []byte(key)
	found := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k, candidate) == 1 {
			found = true
		}
	}
	return found
}

func apiKeyFrom(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.PricesResponse{
		Success: false,
		Results: []models.PriceRecord{},
		Error:   &models.ErrorDetail{Code: code, Message: message},
	})
}
