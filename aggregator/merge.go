package aggregator

import (
	"sort"
	"strings"

	"github.com/use-agent/pricewatch/models"
)

// Dedupe drops records whose (pharmacy, lowercased product) was already
// seen. The first occurrence wins and input order is preserved.
func Dedupe(records []models.PriceRecord) []models.PriceRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.PriceRecord, 0, len(records))
	for _, r := range records {
		key := r.Pharmacy + "\x00" + strings.ToLower(r.Product)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortByPrice orders records by ascending price in place, keeping the
// relative order of equal prices, and returns the slice.
func SortByPrice(records []models.PriceRecord) []models.PriceRecord {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Price < records[j].Price
	})
	return records
}
