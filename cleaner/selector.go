package cleaner

import (
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ValidateSelector reports whether selector is a valid CSS selector group.
func ValidateSelector(selector string) error {
	_, err := cascadia.Compile(selector)
	return err
}

// narrow returns the elements below root matching selector. If the
// selector is invalid or matches nothing, root is returned unchanged so
// downstream processing still has something to work with.
func narrow(root *goquery.Selection, selector string) *goquery.Selection {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		slog.Warn("cleaner: invalid selector ignored", "selector", selector, "error", err)
		return root
	}

	matches := root.FindMatcher(sel)
	if matches.Length() == 0 {
		return root
	}
	return matches
}
