package cleaner

import "unicode/utf8"

// Truncate cuts s to at most limit bytes without splitting a UTF-8
// sequence. A limit <= 0 leaves s untouched.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// EstimateTokens gives a rough token count (runes / 3) for logging how
// much of a page reaches the extractor.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if est := n / 3; est > 0 {
		return est
	}
	return 1
}
