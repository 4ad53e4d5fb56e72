package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	upperCaser   = cases.Upper(language.Und)
)

// SanitizePlain strips markup and control characters from user supplied free text, collapses
// whitespace and truncates the result to limit runes. A limit <= 0 disables truncation.
func SanitizePlain(value string, limit int) string {
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 {
		runes := []rune(cleaned)
		if len(runes) > limit {
			cleaned = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return cleaned
}

// NormalizeCode canonicalises identifiers typed by humans such as coupon codes: NFKC folding
// (full-width characters become ASCII), upper-casing and removal of inner whitespace.
func NormalizeCode(code string) string {
	folded := norm.NFKC.String(strings.TrimSpace(code))
	folded = upperCaser.String(folded)
	return strings.Join(strings.Fields(folded), "")
}
