package engine

import (
	"context"
	"time"
)

// Engine names, also reported in API responses.
const (
	NameHTTP = "http"
	NameRod  = "rod"
)

// Engine is a transport that retrieves a page. One Fetch is one attempt;
// retries are the caller's business.
type Engine interface {
	// Name returns the engine identifier ("http", "rod").
	Name() string

	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL string
	// Attempt is the zero-based retry attempt; it selects the User-Agent.
	Attempt int
	// Referer is sent when non-empty.
	Referer string
	Headers map[string]string
	Timeout time.Duration
	// BrowserTimeout bounds a browser render; zero falls back to Timeout.
	// The HTTP engine never reads it.
	BrowserTimeout time.Duration
}

// FetchResult is the output of a successful engine fetch.
type FetchResult struct {
	HTML       string
	StatusCode int
	FinalURL   string
	EngineName string
}
