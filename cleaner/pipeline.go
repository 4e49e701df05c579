package cleaner

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
)

// Fragment size limits, in bytes, per fetch path.
const (
	LimitScheduled    = 25000
	LimitAdhocHTTP    = 28000
	LimitAdhocBrowser = 45000
)

// Output formats for a fragment.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// FragmentOptions controls how a page is reduced before extraction.
type FragmentOptions struct {
	// Selector narrows the body to the matching elements. No match keeps
	// the whole body.
	Selector string
	// Format is FormatHTML (default) or FormatMarkdown.
	Format string
	// Limit is the maximum fragment size in bytes; 0 means unbounded.
	Limit int
	// BaseURL resolves relative links when converting to Markdown.
	BaseURL string
}

// Cleaner turns full pages into bounded fragments. The Markdown converter
// is built once and shared; it is goroutine-safe.
type Cleaner struct {
	mdConverter *converter.Converter
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown converter.
func NewCleaner() *Cleaner {
	return &Cleaner{mdConverter: newMarkdownConverter()}
}

// Fragment reduces rawHTML to the part worth sending to the extractor:
//
//  1. take <body> (the whole document when there is none)
//  2. drop scripts, styles and other non-content nodes
//  3. narrow to opts.Selector when it matches
//  4. optionally convert to Markdown
//  5. truncate to opts.Limit on a rune boundary
//
// Fragment never fails: anything that cannot be processed degrades to the
// previous stage's output.
func (c *Cleaner) Fragment(rawHTML string, opts FragmentOptions) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		slog.Warn("cleaner: parse failed, using raw page", "error", err)
		return Truncate(rawHTML, opts.Limit)
	}

	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	stripNoise(root)

	if opts.Selector != "" {
		root = narrow(root, opts.Selector)
	}

	content := outerHTML(root)

	if opts.Format == FormatMarkdown {
		md, err := ToMarkdown(c.mdConverter, content, opts.BaseURL)
		if err != nil {
			slog.Warn("cleaner: markdown conversion failed, keeping html", "error", err)
		} else {
			content = md
		}
	}

	return Truncate(content, opts.Limit)
}

func outerHTML(sel *goquery.Selection) string {
	var buf strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		h, err := goquery.OuterHtml(s)
		if err == nil {
			buf.WriteString(h)
		}
	})
	return buf.String()
}
