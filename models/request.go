package models

// Fetch modes for ad-hoc scrapes.
const (
	ModeAuto    = "auto"
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

// ScrapeURLRequest is the payload for POST /api/v1/scrape/url.
type ScrapeURLRequest struct {
	// URL is the page to scrape. Required.
	URL string `json:"url" binding:"required,url"`

	// Mode controls the fetch transport.
	// "http" (default): plain GET.
	// "browser": headless Chrome with a scroll/settle sequence.
	// "auto": try HTTP first, escalate to the browser for script-rendered pages.
	Mode string `json:"mode,omitempty" binding:"omitempty,oneof=auto browser http"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeURLRequest) Defaults() {
	if r.Mode == "" {
		r.Mode = ModeHTTP
	}
}

// PricesQuery holds the query parameters of GET /api/v1/prices.
type PricesQuery struct {
	Pharmacy string `form:"pharmacy"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// Defaults applies default values to unset fields.
func (q *PricesQuery) Defaults() {
	if q.Limit == 0 {
		q.Limit = 200
	}
}
