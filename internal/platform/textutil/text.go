package textutil

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// FoldKey lowercases s, strips diacritics and joins words with underscores so that
// "Esperando aprobación" and "esperando_aprobacion" compare equal.
func FoldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// CleanText strips every HTML tag from user supplied text, trims it and clips it to max runes.
// The result is plain text: entities the sanitizer emits are decoded again. A max of zero disables
// clipping.
func CleanText(s string, max int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
	if max <= 0 || utf8.RuneCountInString(cleaned) <= max {
		return cleaned
	}
	return strings.TrimSpace(string([]rune(cleaned)[:max]))
}
