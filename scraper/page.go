package scraper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/pricewatch/models"
)

// Render loads url in a fresh headless browser and returns the settled
// DOM as HTML.
//
// Lifecycle:
//
//  1. Acquire a browser slot
//  2. Launch Chromium and connect (DEFER: kill + cleanup, close)
//  3. Open a page (DEFER: close)
//  4. Stealth + extra headers + hijack router (DEFER: stop), all before
//     navigation so they apply to the first request
//  5. Navigate and wait for load under the navigation timeout
//  6. Settle sequence
//  7. page.HTML()
//
// Every resource acquired is released on every path, including panics
// unwinding through the defers.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	// ── 1. Slot ──────────────────────────────────────────────────────
	if err := r.acquire(ctx); err != nil {
		return "", categorizeError(err, "waiting for a browser slot")
	}
	defer r.release()

	// ── 2. Browser ───────────────────────────────────────────────────
	l := r.newLauncher(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	defer func() {
		l.Kill()
		l.Cleanup()
	}()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}
	defer func() {
		if cerr := browser.Close(); cerr != nil {
			slog.Debug("browser close failed", "error", cerr)
		}
	}()

	// ── 3. Page ──────────────────────────────────────────────────────
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	defer func() { _ = page.Close() }()

	// ── 4. Pre-navigation setup ──────────────────────────────────────
	if r.opts.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if r.opts.AcceptLanguage != "" {
		err := proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{"Accept-Language": r.opts.AcceptLanguage}),
		}.Call(page)
		if err != nil {
			slog.Debug("accept-language override failed", "error", err)
		}
	}
	if router := setupHijack(page, newBlocker(r.opts.BlockedResourceTypes, r.opts.BlockAds)); router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 5. Navigate ──────────────────────────────────────────────────
	navCtx, cancel := context.WithTimeout(ctx, r.opts.NavTimeout)
	defer cancel()
	nav := page.Context(navCtx)
	if err := nav.Navigate(url); err != nil {
		return "", categorizeError(err, "navigation to target URL failed")
	}
	if err := nav.WaitLoad(); err != nil {
		return "", categorizeError(err, "page did not finish loading")
	}

	// ── 6. Settle ────────────────────────────────────────────────────
	p := page.Context(ctx)
	if err := runSettle(ctx, p, r.opts.Settle); err != nil {
		if ctx.Err() != nil {
			return "", categorizeError(err, "settling page")
		}
		slog.Debug("settle incomplete, using current DOM", "url", url, "error", err)
	}

	// ── 7. Extract ───────────────────────────────────────────────────
	html, err := p.HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return html, nil
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed ScrapeErrors so the API layer
// can map them to HTTP status codes.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
