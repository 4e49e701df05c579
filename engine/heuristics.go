package engine

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var reNoscript = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?|habilita|activa)\s+(el\s+)?javascript`)

var emptyRoots = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	`<div id="__nuxt"></div>`,
}

// NeedsBrowser guesses whether an HTTP-fetched page is a script-rendered
// shell whose products only appear after JavaScript runs.
func NeedsBrowser(page string) bool {
	text := VisibleText(page)
	if len(text) < 200 {
		return true
	}

	lower := strings.ToLower(page)
	for _, root := range emptyRoots {
		if strings.Contains(lower, root) {
			return true
		}
	}
	if reNoscript.MatchString(lower) {
		return true
	}

	// Many scripts around little text.
	return strings.Count(lower, "<script") > 10 && len(text) < 500
}

// VisibleText returns the text inside <body>, skipping script, style and
// noscript content.
func VisibleText(page string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(page))
	var buf strings.Builder
	inBody := false
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(buf.String())
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "body":
				inBody = true
			case "script", "style", "noscript":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if inBody && skipDepth == 0 {
				if t := strings.TrimSpace(string(tokenizer.Text())); t != "" {
					buf.WriteString(t)
					buf.WriteByte(' ')
				}
			}
		}
	}
}
