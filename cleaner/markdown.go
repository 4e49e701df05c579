package cleaner

import (
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// newMarkdownConverter creates a reusable, goroutine-safe Converter. Tables
// are kept because many shops render price grids as tables; minimal cell
// padding keeps the fragment small.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// ToMarkdown converts an HTML fragment to Markdown. baseURL resolves
// relative product links into absolute ones.
func ToMarkdown(conv *converter.Converter, htmlContent string, baseURL string) (string, error) {
	if baseURL == "" {
		return conv.ConvertString(htmlContent)
	}
	return conv.ConvertString(htmlContent, converter.WithDomain(baseURL))
}
