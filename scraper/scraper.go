package scraper

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// Options configures a Renderer.
type Options struct {
	Headless   bool
	NoSandbox  bool
	BrowserBin string
	Proxy      string

	// Stealth injects go-rod/stealth before navigation.
	Stealth bool
	// BlockedResourceTypes are CDP resource types (Image, Stylesheet, Font,
	// Media, Script) refused by the request hijacker.
	BlockedResourceTypes []string
	BlockAds             bool
	AcceptLanguage       string

	NavTimeout time.Duration
	// Settle is run after navigation; nil selects DefaultSettle.
	Settle []SettleStep
	// MaxConcurrent bounds how many browsers run at once; 0 means 2.
	MaxConcurrent int
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		Headless:             true,
		NoSandbox:            true,
		Stealth:              true,
		BlockedResourceTypes: []string{"Image", "Stylesheet", "Font", "Media"},
		BlockAds:             true,
		AcceptLanguage:       "es-CL,es;q=0.9",
		NavTimeout:           25 * time.Second,
		MaxConcurrent:        2,
	}
}

// Renderer loads pages in headless Chromium. Every Render launches its own
// browser process and tears it down before returning, so nothing is
// shared between invocations. It is safe for concurrent use.
type Renderer struct {
	opts   Options
	slots  chan struct{}
	active atomic.Int32
}

// NewRenderer creates a Renderer. No browser is started until Render.
func NewRenderer(opts Options) *Renderer {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 25 * time.Second
	}
	if opts.Settle == nil {
		opts.Settle = DefaultSettle()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	return &Renderer{
		opts:  opts,
		slots: make(chan struct{}, opts.MaxConcurrent),
	}
}

// Active returns the number of renders in flight.
func (r *Renderer) Active() int {
	return int(r.active.Load())
}

// acquire waits for a browser slot or ctx.
func (r *Renderer) acquire(ctx context.Context) error {
	select {
	case r.slots <- struct{}{}:
		r.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Renderer) release() {
	r.active.Add(-1)
	<-r.slots
}

// newLauncher builds a launcher with the anti-automation flags set.
func (r *Renderer) newLauncher(ctx context.Context) *launcher.Launcher {
	l := launcher.New().
		Context(ctx).
		Headless(r.opts.Headless).
		NoSandbox(r.opts.NoSandbox).
		Leakless(true)

	if r.opts.BrowserBin != "" {
		l = l.Bin(r.opts.BrowserBin)
	}
	if r.opts.Proxy != "" {
		l = l.Proxy(r.opts.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	if lang := primaryLanguage(r.opts.AcceptLanguage); lang != "" {
		l.Set(flags.Flag("lang"), lang)
	}

	slog.Debug("browser launcher prepared", "headless", r.opts.Headless, "bin", r.opts.BrowserBin)
	return l
}

// primaryLanguage returns the first tag of an Accept-Language value,
// without its quality weight.
func primaryLanguage(acceptLanguage string) string {
	tag, _, _ := strings.Cut(acceptLanguage, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}
