package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// pricesResponse mirrors the pricewatch API response model.
type pricesResponse struct {
	Success bool `json:"success"`
	Results []struct {
		Pharmacy string  `json:"pharmacy"`
		Product  string  `json:"product"`
		Price    float64 `json:"price"`
		Stock    string  `json:"stock"`
		URL      string  `json:"url"`
		OnOffer  bool    `json:"on_offer"`
	} `json:"results"`
	Total       int    `json:"total"`
	CacheStatus string `json:"cache_status"`
	EngineUsed  string `json:"engine_used"`
	Run         *struct {
		ID            string `json:"id"`
		Sources       int    `json:"sources"`
		SourcesFailed int    `json:"sources_failed"`
		DurationMs    int64  `json:"duration_ms"`
	} `json:"run"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// call sends a request to the pricewatch API and decodes the response.
func (c *client) call(ctx context.Context, method, path string, payload any) (*pricesResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out pricesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	return &out, nil
}

func handleGetPrices(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := url.Values{}
		if p := request.GetString("pharmacy", ""); p != "" {
			q.Set("pharmacy", p)
		}
		q.Set("limit", strconv.Itoa(request.GetInt("limit", 50)))

		resp, err := c.call(ctx, http.MethodGet, "/api/v1/prices?"+q.Encode(), nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(resp, "Latest prices")
	}
}

func handleRefreshPrices(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := c.call(ctx, http.MethodPost, "/api/v1/scrape", nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(resp, "Fresh prices")
	}
}

func handleScrapeURL(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		payload := map[string]string{"url": target}
		if mode := request.GetString("mode", ""); mode != "" {
			payload["mode"] = mode
		}

		resp, err := c.call(ctx, http.MethodPost, "/api/v1/scrape/url", payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(resp, "Prices from "+target)
	}
}

// toolResult renders a price list as a plain-text table, or the API error.
func toolResult(resp *pricesResponse, title string) (*mcp.CallToolResult, error) {
	if !resp.Success {
		msg := "request failed"
		if resp.Error != nil {
			msg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
		}
		return mcp.NewToolResultError(msg), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d records", title, resp.Total)
	if resp.EngineUsed != "" {
		fmt.Fprintf(&sb, " (engine: %s", resp.EngineUsed)
		if resp.CacheStatus != "" {
			fmt.Fprintf(&sb, ", cache: %s", resp.CacheStatus)
		}
		sb.WriteString(")")
	}
	if r := resp.Run; r != nil {
		fmt.Fprintf(&sb, "\nRun %s: %d sources, %d failed, %dms", r.ID, r.Sources, r.SourcesFailed, r.DurationMs)
	}
	if resp.Error != nil {
		fmt.Fprintf(&sb, "\nWarning: [%s] %s", resp.Error.Code, resp.Error.Message)
	}
	sb.WriteString("\n\n")

	for _, rec := range resp.Results {
		fmt.Fprintf(&sb, "- %s | %s | $%.0f", rec.Pharmacy, rec.Product, rec.Price)
		if rec.OnOffer {
			sb.WriteString(" | oferta")
		}
		if rec.Stock != "" {
			fmt.Fprintf(&sb, " | %s", rec.Stock)
		}
		if rec.URL != "" {
			fmt.Fprintf(&sb, " | %s", rec.URL)
		}
		sb.WriteString("\n")
	}

	return mcp.NewToolResultText(sb.String()), nil
}
