package monitor

import "strings"

// Matches reports whether the product is relevant to any enabled keyword.
// Matching is case-insensitive over a haystack built from the title, vendor,
// product type, and tags. The first matching keyword short-circuits.
func Matches(product ProductRecord, keywords []Keyword) bool {
	haystack := searchText(product)
	for _, kw := range keywords {
		if !kw.Enabled {
			continue
		}
		word := strings.ToLower(strings.TrimSpace(kw.Word))
		if word == "" {
			continue
		}
		if strings.ContainsAny(word, " \t") {
			if containsAllTokens(haystack, strings.Fields(word)) {
				return true
			}
			continue
		}
		if containsWord(haystack, word) {
			return true
		}
	}
	return false
}

func searchText(product ProductRecord) string {
	parts := []string{product.Title, product.Vendor, product.ProductType}
	parts = append(parts, product.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// containsAllTokens requires every token to occur somewhere as a substring.
// Token order and adjacency are ignored, so "air jordan" matches
// "Jordan Air 1 Retro". Deliberately permissive; this is not exact-phrase
// matching.
func containsAllTokens(haystack string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(haystack, tok) {
			return false
		}
	}
	return true
}

// containsWord requires a word-boundary match so that "dunk" does not match
// inside "dunker".
func containsWord(haystack, word string) bool {
	for cursor := 0; cursor < len(haystack); {
		idx := strings.Index(haystack[cursor:], word)
		if idx < 0 {
			return false
		}
		start := cursor + idx
		end := start + len(word)
		if boundaryBefore(haystack, start) && boundaryAfter(haystack, end) {
			return true
		}
		cursor = start + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	return i == 0 || !isWordChar(s[i-1])
}

func boundaryAfter(s string, i int) bool {
	return i >= len(s) || !isWordChar(s[i])
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z'
}
