package models

// PricesResponse is returned by the price listing and scrape endpoints.
type PricesResponse struct {
	Success bool          `json:"success"`
	Results []PriceRecord `json:"results"`
	Total   int           `json:"total"`

	// CacheStatus is "hit" when an ad-hoc scrape was served from cache.
	CacheStatus string `json:"cache_status,omitempty"`

	// EngineUsed names the transport of an ad-hoc scrape ("http" or "rod").
	EngineUsed string `json:"engine_used,omitempty"`

	// Run summarises a scheduled run triggered through the API.
	Run *RunSummary `json:"run,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// RunSummary describes one scheduled aggregation run.
type RunSummary struct {
	ID            string `json:"id"`
	Sources       int    `json:"sources"`
	SourcesFailed int    `json:"sources_failed"`
	SourcesCached int    `json:"sources_cached"`
	Records       int    `json:"records"`
	Saved         int    `json:"saved"`
	DurationMs    int64  `json:"duration_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"` // "healthy" or "degraded"
	Uptime  string `json:"uptime"`
	Cache   string `json:"cache"`
	Store   string `json:"store"`
	Sources int    `json:"sources"`
	Version string `json:"version"`
}
