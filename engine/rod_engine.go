package engine

import (
	"context"
	"fmt"
)

// RenderFunc renders a page in a headless browser and returns its final
// HTML. It is injected from main.go to avoid an engine -> scraper import.
type RenderFunc func(ctx context.Context, url string) (string, error)

// RodEngine is the browser-backed Engine. It delegates to a RenderFunc.
type RodEngine struct {
	render RenderFunc
}

// NewRodEngine creates a RodEngine around render.
func NewRodEngine(render RenderFunc) *RodEngine {
	return &RodEngine{render: render}
}

func (e *RodEngine) Name() string { return NameRod }

func (e *RodEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.render == nil {
		return nil, fmt.Errorf("%s: render func not configured", NameRod)
	}

	timeout := req.BrowserTimeout
	if timeout <= 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	page, err := e.render(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", NameRod, err)
	}

	return &FetchResult{
		HTML:       page,
		StatusCode: 200,
		FinalURL:   req.URL,
		EngineName: NameRod,
	}, nil
}
