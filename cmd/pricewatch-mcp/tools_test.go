package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestGetPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/prices", r.URL.Path)
		assert.Equal(t, "Farmex", r.URL.Query().Get("pharmacy"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		_, _ = w.Write([]byte(`{"success":true,"total":1,"results":[{"pharmacy":"Farmex","product":"Paracetamol 500mg","price":990,"on_offer":true,"url":"https://farmex.cl/p"}]}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "k", 5*time.Second)
	res := callTool(t, handleGetPrices(c), map[string]any{"pharmacy": "Farmex", "limit": 5})

	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "Latest prices: 1 records")
	assert.Contains(t, text, "Farmex | Paracetamol 500mg | $990 | oferta")
}

func TestRefreshPrices_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"results":[],"total":0,"error":{"code":"RUN_IN_PROGRESS","message":"busy"}}`))
	}))
	defer srv.Close()

	res := callTool(t, handleRefreshPrices(newClient(srv.URL, "k", 5*time.Second)), nil)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "RUN_IN_PROGRESS")
}

func TestScrapeURL(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/scrape/url", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"total":0,"results":[],"engine_used":"rod","cache_status":"hit"}`))
	}))
	defer srv.Close()

	res := callTool(t, handleScrapeURL(newClient(srv.URL+"/", "k", 5*time.Second)), map[string]any{
		"url":  "https://shop.example/",
		"mode": "browser",
	})

	assert.False(t, res.IsError)
	assert.Equal(t, "browser", got["mode"])
	assert.Contains(t, resultText(t, res), "(engine: rod, cache: hit)")
}

func TestScrapeURL_MissingURL(t *testing.T) {
	res := callTool(t, handleScrapeURL(newClient("http://127.0.0.1:1", "k", time.Second)), map[string]any{})
	assert.True(t, res.IsError)
}

func TestNewServer(t *testing.T) {
	assert.NotNil(t, newServer(newClient("http://127.0.0.1:1", "k", time.Second)))
}
