package scraper

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// adDomains are ad and tracking hosts refused when BlockAds is set.
var adDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"facebook.net":          {},
	"connect.facebook.net":  {},
	"hotjar.com":            {},
	"criteo.com":            {},
	"criteo.net":            {},
	"taboola.com":           {},
	"outbrain.com":          {},
	"clarity.ms":            {},
	"tiktok.com":            {},
	"segment.com":           {},
	"mixpanel.com":          {},
}

// blocker decides which intercepted requests are refused.
type blocker struct {
	types map[proto.NetworkResourceType]struct{}
	ads   bool
}

func newBlocker(typeNames []string, blockAds bool) blocker {
	b := blocker{types: make(map[proto.NetworkResourceType]struct{}, len(typeNames)), ads: blockAds}
	for _, name := range typeNames {
		if rt, ok := resourceTypes[name]; ok {
			b.types[rt] = struct{}{}
		}
	}
	return b
}

func (b blocker) empty() bool { return len(b.types) == 0 && !b.ads }

func (b blocker) blocks(rt proto.NetworkResourceType, rawURL string) bool {
	if _, ok := b.types[rt]; ok {
		return true
	}
	if !b.ads {
		return false
	}
	u, err := url.Parse(rawURL)
	return err == nil && isAdDomain(u.Hostname())
}

// isAdDomain checks host and each parent domain against adDomains.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := adDomains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
	return false
}

// setupHijack installs the request interceptor. It returns nil when there
// is nothing to block; otherwise the caller must Stop the router.
func setupHijack(page *rod.Page, b blocker) *rod.HijackRouter {
	if b.empty() {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if b.blocks(h.Request.Type(), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// Run blocks until Stop.
	go router.Run()
	return router
}
