package classifier

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ligatures = strings.NewReplacer(
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O",
	"ß", "ss",
	"&", " and ",
)

// stripDiacritics decomposes s and drops combining marks, "Shōgun" becomes "Shogun".
func stripDiacritics(s string) string {
	s = ligatures.Replace(s)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize lowercases s, turns the separators ._-: into spaces, strips the
// remaining punctuation and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(stripDiacritics(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '.' || r == '_' || r == '-' || r == ':':
			b.WriteRune(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsShow reports whether the normalized show title appears in the
// normalized candidate title on word boundaries.
func containsShow(title, show string) bool {
	nt, ns := Normalize(title), Normalize(show)
	if ns == "" {
		return true
	}
	return strings.Contains(" "+nt+" ", " "+ns+" ")
}

// cleanForPatterns keeps hyphens so ranges like s01-s03 survive.
func cleanForPatterns(title string) string {
	s := strings.ToLower(stripDiacritics(title))
	s = strings.NewReplacer(".", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
