// Package normalize turns loosely typed extractor output into canonical
// price records. Everything here is pure: no I/O, no shared state.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/use-agent/pricewatch/models"
)

// DefaultStock is used when an item carries no availability text.
const DefaultStock = "N/A"

// Normalize converts raw into a PriceRecord labelled with label.
// It reports false when the product name is empty after trimming or the
// price does not parse to a positive number; such items are dropped
// silently by callers.
func Normalize(raw models.RawItem, label string) (models.PriceRecord, bool) {
	if raw == nil {
		return models.PriceRecord{}, false
	}

	product, _ := raw[models.RawKeyProduct].(string)
	product = strings.TrimSpace(product)
	if product == "" {
		return models.PriceRecord{}, false
	}

	price, ok := ParsePrice(raw[models.RawKeyPrice])
	if !ok {
		return models.PriceRecord{}, false
	}

	return models.PriceRecord{
		Pharmacy: label,
		Product:  product,
		Price:    price,
		Stock:    stockText(raw[models.RawKeyStock]),
		URL:      urlText(raw[models.RawKeyURL]),
		OnOffer:  ParseBool(raw[models.RawKeyOnOffer]),
	}, true
}

// NormalizeAll normalizes every item, keeping input order. The result is
// never longer than raws.
func NormalizeAll(raws []models.RawItem, label string) []models.PriceRecord {
	out := make([]models.PriceRecord, 0, len(raws))
	for _, raw := range raws {
		if rec, ok := Normalize(raw, label); ok {
			out = append(out, rec)
		}
	}
	return out
}

// ParsePrice coerces v into a positive, finite price.
//
// Numbers are taken as-is. Strings may carry currency symbols, codes and
// locale separators: "$1.200" and "1.234.567" use dots for thousands (as
// in CLP listings), "12,50" uses a decimal comma and "1,299.99" mixes both.
func ParsePrice(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parsePriceString(n)
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}

func parsePriceString(s string) (float64, bool) {
	// Keep digits, separators and a leading minus; drop "$", "CLP", spaces.
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	num := b.String()
	if num == "" || num == "-" {
		return 0, false
	}

	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever separator comes last is the decimal one.
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastDot >= 0:
		num = resolveSingleSeparator(num, ".")
	case lastComma >= 0:
		num = resolveSingleSeparator(num, ",")
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// resolveSingleSeparator decides whether sep groups thousands or marks
// decimals when it is the only separator present. Thousands grouping means
// every group after the first has exactly three digits.
func resolveSingleSeparator(num, sep string) string {
	parts := strings.Split(num, sep)
	thousands := len(parts) > 1
	for _, p := range parts[1:] {
		if len(p) != 3 {
			thousands = false
			break
		}
	}
	if len(parts) > 2 && !thousands {
		// "1.2.3" is not a number in any locale.
		return "invalid"
	}
	if thousands {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, ".")
}

// ParseBool interprets the on-offer flag; anything unrecognised is false.
func ParseBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case json.Number:
		f, err := b.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "si", "sí", "y", "s":
			return true
		}
	}
	return false
}

func stockText(v any) string {
	switch s := v.(type) {
	case nil:
		return DefaultStock
	case string:
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return DefaultStock
	case bool:
		if s {
			return "Disponible"
		}
		return "Agotado"
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

func urlText(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
