package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/use-agent/pricewatch/cache"
	"github.com/use-agent/pricewatch/cleaner"
	"github.com/use-agent/pricewatch/engine"
	"github.com/use-agent/pricewatch/models"
	"github.com/use-agent/pricewatch/normalize"
)

// SingleResult is the outcome of an ad-hoc scrape.
type SingleResult struct {
	Records    []models.PriceRecord
	EngineUsed string
	Cached     bool
}

// RunSingle scrapes one caller-supplied URL and returns its records sorted
// by price. Unlike Run, failure is terminal: exhausted retries or a broken
// extractor surface as a *models.ScrapeError.
func (a *Aggregator) RunSingle(ctx context.Context, rawURL, mode string) ([]models.PriceRecord, error) {
	res, err := a.Scrape(ctx, rawURL, mode)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Scrape is RunSingle with cache and engine details.
func (a *Aggregator) Scrape(ctx context.Context, rawURL, mode string) (*SingleResult, error) {
	if mode == "" {
		mode = models.ModeHTTP
	}
	if err := a.validateSingle(rawURL, mode); err != nil {
		return nil, err
	}

	key := cache.AdhocKey(rawURL, cacheVariant(mode))
	if records, ok := a.cache.Get(ctx, key); ok {
		slog.Info("cache hit", "url", rawURL, "mode", mode)
		return &SingleResult{Records: records, EngineUsed: engineForCached(records), Cached: true}, nil
	}

	policy := a.opts.Retry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		slog.Warn("retry failed", "url", rawURL, "mode", mode, "attempt", attempt, "wait", wait, "error", err)
	}

	var (
		records    []models.PriceRecord
		engineUsed string
	)
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		res, err := a.dispatcher.Dispatch(ctx, &engine.FetchRequest{
			URL:            rawURL,
			Attempt:        attempt,
			Timeout:        a.opts.AdhocTimeout,
			BrowserTimeout: a.opts.BrowserTimeout,
		}, mode)
		if err != nil {
			return err
		}

		label, limit := models.LabelManual, cleaner.LimitAdhocHTTP
		if res.EngineName == engine.NameRod {
			label, limit = models.LabelGenius, cleaner.LimitAdhocBrowser
		}

		fragment := a.cleaner.Fragment(res.HTML, cleaner.FragmentOptions{
			Format:  a.opts.FragmentFormat,
			Limit:   limit,
			BaseURL: rawURL,
		})
		items, err := a.extract(ctx, fragment)
		if err != nil {
			return err
		}

		records = normalize.NormalizeAll(items, label)
		for i := range records {
			if records[i].URL == "" {
				records[i].URL = rawURL
			}
		}
		engineUsed = res.EngineName
		return nil
	})
	if err != nil {
		return nil, terminalError(ctx, rawURL, err)
	}

	SortByPrice(records)
	a.cache.Put(ctx, key, records)
	slog.Info("url scraped", "url", rawURL, "engine", engineUsed, "records", len(records))

	return &SingleResult{Records: records, EngineUsed: engineUsed}, nil
}

func (a *Aggregator) validateSingle(rawURL, mode string) error {
	switch mode {
	case models.ModeHTTP, models.ModeAuto:
	case models.ModeBrowser:
		if !a.dispatcher.HasBrowser() {
			return models.NewScrapeError(models.ErrCodeInvalidInput, "browser rendering is disabled", nil)
		}
	default:
		return models.NewScrapeError(models.ErrCodeInvalidInput, "unknown mode "+mode, nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "url must be an absolute http(s) URL", err)
	}
	return nil
}

func cacheVariant(mode string) string {
	if mode == models.ModeHTTP {
		return ""
	}
	return mode
}

// engineForCached recovers the engine name from the records' label.
func engineForCached(records []models.PriceRecord) string {
	if len(records) > 0 && records[0].Pharmacy == models.LabelGenius {
		return engine.NameRod
	}
	return engine.NameHTTP
}

// terminalError turns the retry outcome into the error reported to the
// caller, keeping the underlying cause in the chain.
func terminalError(ctx context.Context, rawURL string, err error) error {
	var se *models.ScrapeError
	switch {
	case ctx.Err() != nil:
		return models.NewScrapeError(models.ErrCodeTimeout, "scrape of "+rawURL+" timed out", err)
	case errors.As(err, &se) && isExtractionCode(se.Code):
		return models.NewScrapeError(models.ErrCodeExtraction, "could not extract prices from "+rawURL, err)
	default:
		return models.NewScrapeError(models.ErrCodeFetchExhausted, "could not fetch "+rawURL, err)
	}
}

func isExtractionCode(code string) bool {
	switch code {
	case models.ErrCodeExtraction, models.ErrCodeLLMFailure, models.ErrCodeLLMAuthFailure, models.ErrCodeLLMRateLimited:
		return true
	}
	return false
}
