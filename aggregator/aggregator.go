// Package aggregator runs the fetch, extract and normalize pipeline over
// configured sources or a single ad-hoc URL, and merges the results.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/pricewatch/cache"
	"github.com/use-agent/pricewatch/cleaner"
	"github.com/use-agent/pricewatch/engine"
	"github.com/use-agent/pricewatch/llm"
	"github.com/use-agent/pricewatch/models"
	"github.com/use-agent/pricewatch/normalize"
	"github.com/use-agent/pricewatch/retry"
)

// Deps are the collaborators of an Aggregator. Fetcher and Extractor are
// required; Renderer, Memory and Cache may be nil.
type Deps struct {
	Fetcher   engine.Engine
	Renderer  engine.Engine
	Memory    *engine.DomainMemory
	Extractor llm.Extractor
	Cache     *cache.Cache
	Cleaner   *cleaner.Cleaner
}

// Options tune the pipeline. Zero values select DefaultOptions' values.
type Options struct {
	Retry retry.Policy

	ScheduledTimeout time.Duration
	AdhocTimeout     time.Duration
	BrowserTimeout   time.Duration

	// Referer is sent on the scheduled path only.
	Referer string
	// FragmentFormat is cleaner.FormatHTML or cleaner.FormatMarkdown.
	FragmentFormat string
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		Retry:            retry.Default(),
		ScheduledTimeout: 10 * time.Second,
		AdhocTimeout:     12 * time.Second,
		BrowserTimeout:   60 * time.Second,
		Referer:          "https://www.google.cl/",
		FragmentFormat:   cleaner.FormatHTML,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if o.Retry.Backoff == nil {
		o.Retry.Backoff = d.Retry.Backoff
	}
	if o.ScheduledTimeout <= 0 {
		o.ScheduledTimeout = d.ScheduledTimeout
	}
	if o.AdhocTimeout <= 0 {
		o.AdhocTimeout = d.AdhocTimeout
	}
	if o.BrowserTimeout <= 0 {
		o.BrowserTimeout = d.BrowserTimeout
	}
	if o.Referer == "" {
		o.Referer = d.Referer
	}
	if o.FragmentFormat == "" {
		o.FragmentFormat = d.FragmentFormat
	}
	return o
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	fetcher    engine.Engine
	dispatcher *engine.Dispatcher
	extractor  llm.Extractor
	cache      *cache.Cache
	cleaner    *cleaner.Cleaner
	opts       Options
}

// New creates an Aggregator.
func New(deps Deps, opts Options) *Aggregator {
	cl := deps.Cleaner
	if cl == nil {
		cl = cleaner.NewCleaner()
	}
	return &Aggregator{
		fetcher:    deps.Fetcher,
		dispatcher: engine.NewDispatcher(deps.Fetcher, deps.Renderer, deps.Memory),
		extractor:  deps.Extractor,
		cache:      deps.Cache,
		cleaner:    cl,
		opts:       opts.withDefaults(),
	}
}

// HasBrowser reports whether the dynamic-render transport is available.
func (a *Aggregator) HasBrowser() bool { return a.dispatcher.HasBrowser() }

// Stats describes one scheduled run.
type Stats struct {
	Sources  int
	Failed   int
	Cached   int
	Records  int
	Duration time.Duration
}

// Run scrapes every source concurrently and returns the merged,
// deduplicated, price-sorted records. A failing source contributes
// nothing; Run itself never fails.
func (a *Aggregator) Run(ctx context.Context, sources []models.Source) []models.PriceRecord {
	records, _ := a.RunWithStats(ctx, sources)
	return records
}

// RunWithStats is Run plus per-run counters.
func (a *Aggregator) RunWithStats(ctx context.Context, sources []models.Source) ([]models.PriceRecord, Stats) {
	start := time.Now()
	perSource := make([][]models.PriceRecord, len(sources))
	var failed, cached atomic.Int32

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					perSource[i] = nil
					slog.Error("source panicked", "source", src.Name, "panic", fmt.Sprint(r))
				}
			}()

			records, hit, err := a.scrapeSource(ctx, src)
			switch {
			case err != nil:
				failed.Add(1)
				slog.Error("all retries failed", "source", src.Name, "error", err)
			case hit:
				cached.Add(1)
			}
			perSource[i] = records
		}()
	}
	wg.Wait()

	var merged []models.PriceRecord
	for _, records := range perSource {
		merged = append(merged, records...)
	}
	merged = SortByPrice(Dedupe(merged))

	stats := Stats{
		Sources:  len(sources),
		Failed:   int(failed.Load()),
		Cached:   int(cached.Load()),
		Records:  len(merged),
		Duration: time.Since(start),
	}
	slog.Info("aggregation finished",
		"sources", stats.Sources,
		"failed", stats.Failed,
		"cached", stats.Cached,
		"records", stats.Records,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return merged, stats
}

// scrapeSource runs the scheduled pipeline for one source. On error the
// returned records are nil; the caller treats that as an empty
// contribution.
func (a *Aggregator) scrapeSource(ctx context.Context, src models.Source) ([]models.PriceRecord, bool, error) {
	key := cache.ScheduledKey(src.URL)
	if records, ok := a.cache.Get(ctx, key); ok {
		slog.Info("cache hit", "source", src.Name)
		return records, true, nil
	}

	policy := a.opts.Retry
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		slog.Warn("retry failed", "source", src.Name, "attempt", attempt, "wait", wait, "error", err)
	}

	var records []models.PriceRecord
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		res, err := a.fetcher.Fetch(ctx, &engine.FetchRequest{
			URL:     src.URL,
			Attempt: attempt,
			Referer: a.opts.Referer,
			Timeout: a.opts.ScheduledTimeout,
		})
		if err != nil {
			return err
		}

		fragment := a.cleaner.Fragment(res.HTML, cleaner.FragmentOptions{
			Selector: src.Selector,
			Format:   a.opts.FragmentFormat,
			Limit:    cleaner.LimitScheduled,
			BaseURL:  src.URL,
		})
		items, err := a.extract(ctx, fragment)
		if err != nil {
			return err
		}
		records = normalize.NormalizeAll(items, src.Name)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	a.cache.Put(ctx, key, records)
	slog.Info("source scraped", "source", src.Name, "records", len(records))
	return records, false, nil
}

// extract is the adapter around the extraction capability: one call, no
// retry. Failures that another attempt cannot fix are marked permanent.
func (a *Aggregator) extract(ctx context.Context, fragment string) ([]models.RawItem, error) {
	slog.Debug("extracting", "bytes", len(fragment), "tokens", cleaner.EstimateTokens(fragment))

	items, err := a.extractor.Extract(ctx, fragment)
	if err == nil {
		return items, nil
	}

	var se *models.ScrapeError
	if errors.As(err, &se) {
		if se.Code == models.ErrCodeLLMAuthFailure || (se.Code == models.ErrCodeLLMFailure && isUnavailable(a.extractor)) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return nil, models.NewScrapeError(models.ErrCodeExtraction, "extraction failed", err)
}

func isUnavailable(ex llm.Extractor) bool {
	_, ok := ex.(llm.Unavailable)
	return ok
}
