package keyword

import (
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Folds free-form text for matching: lower-case, unicode normalization, and
// diacritics removed (so "Gdańsk" and "gdansk" compare equal).
func Normalize(text string) string {
	// the transformer carries state, so it can't be shared between goroutines
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	out, _, err := transform.String(normFunc, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return lower
	}
	return out
}
