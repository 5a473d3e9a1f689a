package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var separators = strings.NewReplacer(
	",", " ",
	"-", " ",
	"–", " ",
	"—", " ",
	"/", " ",
	"_", " ",
	" at ", " ",
	" in ", " ",
)

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize folds case, strips diacritics and punctuation, turns common
// separators into spaces and collapses whitespace.
func Normalize(s string) string {
	s = cases.Fold().String(stripMarks(s))
	s = separators.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
