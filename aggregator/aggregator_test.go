package aggregator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/pricewatch/cache"
	"github.com/use-agent/pricewatch/engine"
	"github.com/use-agent/pricewatch/llm"
	"github.com/use-agent/pricewatch/models"
	"github.com/use-agent/pricewatch/retry"
)

// shop serves one page per path, each tagged with a marker the stub
// extractor keys on.
type shop struct {
	srv      *httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	referers map[string]string
	failing  map[string]bool
}

func newShop(t *testing.T) *shop {
	s := &shop{hits: map[string]int{}, referers: map[string]string{}, failing: map[string]bool{}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.referers[r.URL.Path] = r.Header.Get("Referer")
		fail := s.failing[r.URL.Path]
		s.mu.Unlock()

		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><div>PAGE" + r.URL.Path + "</div></body></html>"))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *shop) url(path string) string { return s.srv.URL + path }

func (s *shop) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// stubExtractor answers by page marker and counts calls.
type stubExtractor struct {
	byMarker map[string][]models.RawItem
	errs     map[string]error
	panics   map[string]bool
	calls    atomic.Int32
}

func (s *stubExtractor) Extract(_ context.Context, fragment string) ([]models.RawItem, error) {
	s.calls.Add(1)
	for marker := range s.panics {
		if strings.Contains(fragment, "PAGE"+marker+"<") {
			panic("extractor exploded")
		}
	}
	for marker, err := range s.errs {
		if strings.Contains(fragment, "PAGE"+marker+"<") {
			return nil, err
		}
	}
	for marker, items := range s.byMarker {
		if strings.Contains(fragment, "PAGE"+marker+"<") {
			return items, nil
		}
	}
	return []models.RawItem{}, nil
}

// noWait is a retry policy that records waits instead of sleeping.
func noWait(waits *[]time.Duration) retry.Policy {
	var mu sync.Mutex
	p := retry.Default()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*waits = append(*waits, d)
		mu.Unlock()
		return ctx.Err()
	}
	return p
}

func newTestAggregator(ex llm.Extractor, c *cache.Cache, renderer engine.Engine, waits *[]time.Duration) *Aggregator {
	if waits == nil {
		waits = &[]time.Duration{}
	}
	return New(Deps{
		Fetcher:   engine.NewHTTPEngine(engine.HTTPOptions{}),
		Renderer:  renderer,
		Extractor: ex,
		Cache:     c,
	}, Options{Retry: noWait(waits)})
}

func newMemCache(t *testing.T) *cache.Cache {
	c := cache.New(cache.NewMemory(0), time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func abExtractor() *stubExtractor {
	return &stubExtractor{byMarker: map[string][]models.RawItem{
		"/a": {{"producto": "X", "precio": "$1.200"}},
		"/b": {{"producto": "X", "precio": 900.0}, {"producto": "Y", "precio": 500.0}},
	}}
}

func TestRun_ConcreteScenario(t *testing.T) {
	s := newShop(t)
	agg := newTestAggregator(abExtractor(), nil, nil, nil)

	got := agg.Run(context.Background(), []models.Source{
		{Name: "A", URL: s.url("/a")},
		{Name: "B", URL: s.url("/b")},
	})

	want := []models.PriceRecord{
		{Pharmacy: "B", Product: "Y", Price: 500, Stock: "N/A"},
		{Pharmacy: "B", Product: "X", Price: 900, Stock: "N/A"},
		{Pharmacy: "A", Product: "X", Price: 1200, Stock: "N/A"},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, "https://www.google.cl/", s.referers["/a"])
}

func TestRun_AllEmpty(t *testing.T) {
	s := newShop(t)
	agg := newTestAggregator(&stubExtractor{}, nil, nil, nil)

	got := agg.Run(context.Background(), []models.Source{
		{Name: "A", URL: s.url("/a")},
		{Name: "B", URL: s.url("/b")},
	})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRun_NoSources(t *testing.T) {
	agg := newTestAggregator(&stubExtractor{}, nil, nil, nil)
	got, stats := agg.RunWithStats(context.Background(), nil)
	assert.Empty(t, got)
	assert.Equal(t, 0, stats.Sources)
}

func TestRun_CacheIdempotence(t *testing.T) {
	s := newShop(t)
	ex := abExtractor()
	agg := newTestAggregator(ex, newMemCache(t), nil, nil)
	sources := []models.Source{
		{Name: "A", URL: s.url("/a")},
		{Name: "B", URL: s.url("/b")},
	}

	first, stats1 := agg.RunWithStats(context.Background(), sources)
	second, stats2 := agg.RunWithStats(context.Background(), sources)

	assert.Equal(t, int32(2), ex.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, 0, stats1.Cached)
	assert.Equal(t, 2, stats2.Cached)
	assert.Equal(t, 1, s.hitCount("/a"))
}

func TestRun_EmptyResultsAreNotCached(t *testing.T) {
	s := newShop(t)
	ex := &stubExtractor{}
	agg := newTestAggregator(ex, newMemCache(t), nil, nil)
	sources := []models.Source{{Name: "A", URL: s.url("/a")}}

	agg.Run(context.Background(), sources)
	agg.Run(context.Background(), sources)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestRun_SourceIsolation(t *testing.T) {
	s := newShop(t)
	s.failing["/down"] = true

	ex := abExtractor()
	ex.panics = map[string]bool{"/boom": true}
	var waits []time.Duration
	agg := newTestAggregator(ex, nil, nil, &waits)

	got, stats := agg.RunWithStats(context.Background(), []models.Source{
		{Name: "Down", URL: s.url("/down")},
		{Name: "Boom", URL: s.url("/boom")},
		{Name: "B", URL: s.url("/b")},
	})

	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, "B", r.Pharmacy)
	}
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 3, s.hitCount("/down"))
}

func TestRun_ExtractionFailureRetriesThenEmpty(t *testing.T) {
	s := newShop(t)
	ex := abExtractor()
	ex.errs = map[string]error{"/a": errors.New("malformed output")}
	agg := newTestAggregator(ex, nil, nil, nil)

	got := agg.Run(context.Background(), []models.Source{
		{Name: "A", URL: s.url("/a")},
		{Name: "B", URL: s.url("/b")},
	})

	assert.Len(t, got, 2)
	assert.Equal(t, 3, s.hitCount("/a"))
	assert.Equal(t, int32(4), ex.calls.Load())
}

func TestRun_AuthFailureIsNotRetried(t *testing.T) {
	s := newShop(t)
	ex := &stubExtractor{errs: map[string]error{
		"/a": models.NewScrapeError(models.ErrCodeLLMAuthFailure, "bad key", nil),
	}}
	agg := newTestAggregator(ex, nil, nil, nil)

	got := agg.Run(context.Background(), []models.Source{{Name: "A", URL: s.url("/a")}})
	assert.Empty(t, got)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestRun_DedupeWithinPharmacyOnly(t *testing.T) {
	s := newShop(t)
	ex := &stubExtractor{byMarker: map[string][]models.RawItem{
		"/a": {
			{"producto": "Paracetamol", "precio": 1000},
			{"producto": "PARACETAMOL", "precio": 800},
			{"producto": "  ", "precio": 10},
			{"producto": "Gratis", "precio": 0},
		},
		"/b": {{"producto": "paracetamol", "precio": 1100}},
	}}
	agg := newTestAggregator(ex, nil, nil, nil)

	got := agg.Run(context.Background(), []models.Source{
		{Name: "A", URL: s.url("/a")},
		{Name: "B", URL: s.url("/b")},
	})

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Pharmacy)
	assert.Equal(t, 1000.0, got[0].Price)
	assert.Equal(t, "B", got[1].Pharmacy)
}

func TestRunSingle_LabelsAndFillsURL(t *testing.T) {
	s := newShop(t)
	ex := &stubExtractor{byMarker: map[string][]models.RawItem{
		"/p": {
			{"producto": "Caro", "precio": 5000},
			{"producto": "Barato", "precio": 1000, "url": "https://shop.cl/barato"},
		},
	}}
	agg := newTestAggregator(ex, nil, nil, nil)

	got, err := agg.RunSingle(context.Background(), s.url("/p"), models.ModeHTTP)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Barato", got[0].Product)
	assert.Equal(t, "https://shop.cl/barato", got[0].URL)
	assert.Equal(t, s.url("/p"), got[1].URL)
	for _, r := range got {
		assert.Equal(t, models.LabelManual, r.Pharmacy)
	}
	assert.Empty(t, s.referers["/p"])
}

func TestRunSingle_ExhaustionIsTerminal(t *testing.T) {
	s := newShop(t)
	s.failing["/gone"] = true
	var waits []time.Duration
	agg := newTestAggregator(&stubExtractor{}, nil, nil, &waits)

	_, err := agg.RunSingle(context.Background(), s.url("/gone"), models.ModeHTTP)
	require.Error(t, err)

	var se *models.ScrapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, models.ErrCodeFetchExhausted, se.Code)
	assert.ErrorIs(t, err, retry.ErrExhausted)

	var status *engine.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusServiceUnavailable, status.StatusCode)

	assert.Equal(t, 3, s.hitCount("/gone"))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestRunSingle_ExtractionFailureIsTerminal(t *testing.T) {
	s := newShop(t)
	ex := &stubExtractor{errs: map[string]error{"/p": errors.New("not json")}}
	agg := newTestAggregator(ex, nil, nil, nil)

	_, err := agg.RunSingle(context.Background(), s.url("/p"), models.ModeHTTP)
	var se *models.ScrapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, models.ErrCodeExtraction, se.Code)
}

func TestRunSingle_InvalidInput(t *testing.T) {
	agg := newTestAggregator(&stubExtractor{}, nil, nil, nil)

	for _, tc := range []struct{ url, mode string }{
		{"ftp://x.cl/", models.ModeHTTP},
		{"not a url", models.ModeHTTP},
		{"https://x.cl/", "teleport"},
		{"https://x.cl/", models.ModeBrowser}, // no renderer configured
	} {
		_, err := agg.RunSingle(context.Background(), tc.url, tc.mode)
		var se *models.ScrapeError
		require.True(t, errors.As(err, &se), tc)
		assert.Equal(t, models.ErrCodeInvalidInput, se.Code, tc)
	}
}

func TestRunSingle_BrowserModeAndCache(t *testing.T) {
	var renders atomic.Int32
	renderer := engine.NewRodEngine(func(_ context.Context, url string) (string, error) {
		renders.Add(1)
		return "<html><body><div>PAGE/spa</div></body></html>", nil
	})
	ex := &stubExtractor{byMarker: map[string][]models.RawItem{
		"/spa": {{"producto": "Jarabe", "precio": "2.990"}},
	}}
	agg := newTestAggregator(ex, newMemCache(t), renderer, nil)
	require.True(t, agg.HasBrowser())

	res, err := agg.Scrape(context.Background(), "https://spa.cl/spa", models.ModeBrowser)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, models.LabelGenius, res.Records[0].Pharmacy)
	assert.Equal(t, 2990.0, res.Records[0].Price)
	assert.Equal(t, engine.NameRod, res.EngineUsed)
	assert.False(t, res.Cached)

	again, err := agg.Scrape(context.Background(), "https://spa.cl/spa", models.ModeBrowser)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, engine.NameRod, again.EngineUsed)
	assert.Equal(t, res.Records, again.Records)
	assert.Equal(t, int32(1), renders.Load())
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestRunSingle_AutoKeepsHTTPTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(400 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("<html><body><div>PAGE/slow</div></body></html>"))
	}))
	t.Cleanup(slow.Close)

	var renderBudget time.Duration
	renderer := engine.NewRodEngine(func(ctx context.Context, url string) (string, error) {
		if dl, ok := ctx.Deadline(); ok {
			renderBudget = time.Until(dl)
		}
		return "<html><body><div>PAGE/slow</div></body></html>", nil
	})
	ex := &stubExtractor{byMarker: map[string][]models.RawItem{
		"/slow": {{"producto": "Crema", "precio": 4990.0}},
	}}
	agg := New(Deps{
		Fetcher:   engine.NewHTTPEngine(engine.HTTPOptions{}),
		Renderer:  renderer,
		Extractor: ex,
	}, Options{
		Retry:          noWait(&[]time.Duration{}),
		AdhocTimeout:   100 * time.Millisecond,
		BrowserTimeout: 5 * time.Second,
	})

	res, err := agg.Scrape(context.Background(), slow.URL+"/slow", models.ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, engine.NameRod, res.EngineUsed, "the plain GET must give up at the ad-hoc timeout")
	require.Len(t, res.Records, 1)
	assert.Greater(t, renderBudget, time.Second, "the browser gets its own budget")
}

func TestOptions_Defaults(t *testing.T) {
	got := Options{}.withDefaults()
	d := DefaultOptions()
	assert.Equal(t, d.Referer, got.Referer)
	assert.Equal(t, d.ScheduledTimeout, got.ScheduledTimeout)
	assert.Equal(t, d.AdhocTimeout, got.AdhocTimeout)
	assert.Equal(t, d.BrowserTimeout, got.BrowserTimeout)
	assert.Equal(t, d.FragmentFormat, got.FragmentFormat)
	assert.Equal(t, "https://shop.cl/", Options{Referer: "https://shop.cl/"}.withDefaults().Referer)
}

func TestDedupe(t *testing.T) {
	in := []models.PriceRecord{
		{Pharmacy: "A", Product: "X", Price: 3},
		{Pharmacy: "A", Product: "x", Price: 1},
		{Pharmacy: "B", Product: "X", Price: 2},
	}
	out := Dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, 3.0, out[0].Price)
	assert.Equal(t, "B", out[1].Pharmacy)
}

func TestSortByPrice_Stable(t *testing.T) {
	in := []models.PriceRecord{
		{Product: "a", Price: 2},
		{Product: "b", Price: 1},
		{Product: "c", Price: 2},
		{Product: "d", Price: 1},
	}
	out := SortByPrice(in)
	var names []string
	for _, r := range out {
		names = append(names, r.Product)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, names)
}
