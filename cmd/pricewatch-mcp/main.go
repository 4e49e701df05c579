package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("PRICEWATCH_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PRICEWATCH_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PRICEWATCH_API_KEY is required")
		os.Exit(1)
	}

	s := newServer(newClient(apiURL, apiKey, 180*time.Second))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(c *client) *server.MCPServer {
	s := server.NewMCPServer(
		"pricewatch",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	getPricesTool := mcp.NewTool("get_prices",
		mcp.WithDescription("List the latest scraped pharmacy prices, cheapest first."),
		mcp.WithString("pharmacy",
			mcp.Description("Only return records from this pharmacy (exact name)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default: 50, max: 1000)"),
		),
	)
	s.AddTool(getPricesTool, handleGetPrices(c))

	refreshTool := mcp.NewTool("refresh_prices",
		mcp.WithDescription("Scrape every configured pharmacy now and return the fresh price list. Fails if a run is already in progress."),
	)
	s.AddTool(refreshTool, handleRefreshPrices(c))

	scrapeURLTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Scrape product prices from any pharmacy page. 'browser' renders JavaScript-heavy pages with a headless browser."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the product listing to scrape"),
		),
		mcp.WithString("mode",
			mcp.Description("Fetch mode: 'http' (default), 'browser', or 'auto' (HTTP first, browser when the page needs it)"),
			mcp.Enum("http", "browser", "auto"),
		),
	)
	s.AddTool(scrapeURLTool, handleScrapeURL(c))

	return s
}
