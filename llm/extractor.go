package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/pricewatch/models"
)

// MaxInput caps what is ever sent to a provider, whatever the caller passes.
const MaxInput = 30000

// Extractor is the external capability that turns a bounded HTML (or
// Markdown) fragment into candidate price items. Implementations make a
// single provider call per invocation and never retry.
type Extractor interface {
	Extract(ctx context.Context, fragment string) ([]models.RawItem, error)
}

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Params configures NewExtractor.
type Params struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// NewExtractor builds the extractor for p.Provider. Without an API key the
// capability is unavailable: every call fails, which the pipeline treats as
// an extraction failure.
func NewExtractor(p Params) Extractor {
	if p.APIKey == "" {
		return Unavailable{Reason: "no API key configured for " + p.Provider}
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	switch strings.ToLower(p.Provider) {
	case ProviderOpenAI:
		return NewOpenAIClient(httpClient, p.APIKey, p.Model, p.BaseURL)
	default:
		return NewGeminiClient(httpClient, p.APIKey, p.Model, p.BaseURL)
	}
}

// Unavailable is the Extractor used when no provider is configured.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Extract(context.Context, string) ([]models.RawItem, error) {
	return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "extraction capability unavailable: "+u.Reason, nil)
}

// Func adapts a plain function to the Extractor interface.
type Func func(ctx context.Context, fragment string) ([]models.RawItem, error)

func (f Func) Extract(ctx context.Context, fragment string) ([]models.RawItem, error) {
	return f(ctx, fragment)
}

// systemPrompt asks for the item schema the normalizer understands.
const systemPrompt = `You extract product prices from e-commerce HTML for pharmacies in Chile.

Return ONLY a JSON array (or an object with a single "items" array) where every element is:
{"producto": string, "precio": number in CLP, "stock": string or null, "url": string or null, "es_oferta": boolean}

Rules:
- Ignore advertising, menus, footers and anything that is not a product listing.
- "precio" is the current selling price as a plain number without separators.
- Use the absolute product URL when one is present.
- No markdown fences, no explanations.`

// DecodeItems parses provider output into raw items. It tolerates
// markdown fences and accepts either a bare array or an object whose first
// array-valued field holds the items. Array elements that are not objects
// are skipped.
func DecodeItems(text string) ([]models.RawItem, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, errors.New("llm: empty response")
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("llm: decode items: %w", err)
	}

	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		list = firstArray(t)
		if list == nil {
			return nil, errors.New("llm: object response holds no item array")
		}
	default:
		return nil, fmt.Errorf("llm: unexpected response shape %T", v)
	}

	items := make([]models.RawItem, 0, len(list))
	for _, el := range list {
		if obj, ok := el.(map[string]any); ok {
			items = append(items, models.RawItem(obj))
		}
	}
	return items, nil
}

// firstArray prefers the conventional keys before scanning the rest.
func firstArray(obj map[string]any) []any {
	for _, k := range []string{"items", "productos", "products", "data", "results"} {
		if arr, ok := obj[k].([]any); ok {
			return arr
		}
	}
	for _, v := range obj {
		if arr, ok := v.([]any); ok {
			return arr
		}
	}
	return nil
}

// cleanJSON removes markdown code fences if present.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
