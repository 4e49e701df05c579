package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/use-agent/pricewatch/models"
)

// maxResponse caps how much of a provider response is read.
const maxResponse = 4 << 20

// exchange is one JSON round trip to a provider.
type exchange struct {
	client   *http.Client
	provider string
	endpoint string
	header   http.Header
}

// post marshals payload, sends it and returns the status and raw body.
// Transport failures come back as LLM_FAILURE so the aggregator can retry.
func (x exchange) post(ctx context.Context, payload any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal %s request: %w", x.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.endpoint, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", x.provider, err)
	}
	for k, vs := range x.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return 0, nil, models.NewScrapeError(models.ErrCodeLLMFailure, x.provider+" request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return resp.StatusCode, nil, models.NewScrapeError(models.ErrCodeLLMFailure, "failed to read "+x.provider+" response", err)
	}
	return resp.StatusCode, body, nil
}

// decodeAnswer turns the model's text answer into items.
func decodeAnswer(provider, text string) ([]models.RawItem, error) {
	items, err := DecodeItems(text)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, provider+" returned malformed items", err)
	}
	return items, nil
}

// classifyStatus maps a provider HTTP status to an error code. Auth
// failures are never worth another attempt.
func classifyStatus(statusCode int, msg string) *models.ScrapeError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewScrapeError(models.ErrCodeLLMAuthFailure, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewScrapeError(models.ErrCodeLLMRateLimited, msg, nil)
	default:
		return models.NewScrapeError(models.ErrCodeLLMFailure, fmt.Sprintf("LLM API returned %d: %s", statusCode, msg), nil)
	}
}
