package engine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/use-agent/pricewatch/models"
)

// ErrNoBrowser is returned when browser mode is requested without a
// browser engine configured.
var ErrNoBrowser = errors.New("dispatcher: browser engine not configured")

// Dispatcher picks the engine for a fetch. Auto mode starts with the cheap
// HTTP engine and escalates to the browser when the page looks like a
// script-rendered shell; the engine that worked is remembered per domain.
type Dispatcher struct {
	http    Engine
	browser Engine
	memory  *DomainMemory
}

// NewDispatcher creates a Dispatcher. browser and memory may be nil.
func NewDispatcher(httpEngine, browser Engine, memory *DomainMemory) *Dispatcher {
	return &Dispatcher{http: httpEngine, browser: browser, memory: memory}
}

// HasBrowser reports whether a browser engine is configured.
func (d *Dispatcher) HasBrowser() bool { return d.browser != nil }

// Dispatch fetches req using the engine selected by mode.
func (d *Dispatcher) Dispatch(ctx context.Context, req *FetchRequest, mode string) (*FetchResult, error) {
	switch mode {
	case models.ModeBrowser:
		if d.browser == nil {
			return nil, ErrNoBrowser
		}
		return d.browser.Fetch(ctx, req)
	case models.ModeAuto:
		return d.auto(ctx, req)
	default:
		return d.http.Fetch(ctx, req)
	}
}

func (d *Dispatcher) auto(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	domain := extractDomain(req.URL)

	if remembered := d.memory.Get(domain); remembered != "" {
		if eng := d.byName(remembered); eng != nil {
			slog.Debug("domain memory hit", "domain", domain, "engine", remembered)
			result, err := eng.Fetch(ctx, req)
			if err == nil {
				return result, nil
			}
			slog.Info("domain memory miss (engine failed), re-selecting",
				"domain", domain, "engine", remembered, "error", err)
			d.memory.Delete(domain)
		}
	}

	result, err := d.http.Fetch(ctx, req)
	if d.browser == nil {
		if err == nil {
			d.memory.Set(domain, result.EngineName)
		}
		return result, err
	}

	if err == nil && !NeedsBrowser(result.HTML) {
		d.memory.Set(domain, result.EngineName)
		return result, nil
	}

	if err != nil {
		slog.Debug("http engine failed, escalating", "url", req.URL, "error", err)
	} else {
		slog.Debug("page looks script-rendered, escalating", "url", req.URL)
	}

	rendered, berr := d.browser.Fetch(ctx, req)
	if berr != nil {
		// A thin but successful HTTP page beats nothing.
		if err == nil {
			return result, nil
		}
		return nil, berr
	}
	d.memory.Set(domain, rendered.EngineName)
	return rendered, nil
}

func (d *Dispatcher) byName(name string) Engine {
	switch {
	case d.http != nil && d.http.Name() == name:
		return d.http
	case d.browser != nil && d.browser.Name() == name:
		return d.browser
	}
	return nil
}

// extractDomain parses the hostname from a URL string.
// extractDomain keys DomainMemory by registrable domain (eTLD+1), so
// www.farmex.cl and farmex.cl share one entry. IPs and single-label hosts
// are used as they are.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	if site, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return site
	}
	return host
}
