package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reSpaces = regexp.MustCompile(`\s+`)

	stopWords = map[string]struct{}{
		"de": {}, "la": {}, "el": {}, "los": {}, "las": {}, "un": {}, "una": {}, "unos": {}, "unas": {},
		"con": {}, "sin": {}, "para": {}, "por": {}, "del": {}, "al": {}, "y": {}, "o": {}, "en": {}, "a": {},
	}
)

// Normalize lowercases, strips diacritics and collapses whitespace.
// "  Cuadérno   UNIVERSITARIO " -> "cuaderno universitario".
func Normalize(input string) string {
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(stripper, strings.ToLower(input))
	if err != nil {
		s = strings.ToLower(input)
	}
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Keywords returns the significant tokens of input: normalized, longer than one
// character and not a Spanish stop-word.
func Keywords(input string) []string {
	parts := strings.Fields(Normalize(input))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len([]rune(p)) <= 1 {
			continue
		}
		if _, ok := stopWords[p]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Prefix returns at most n runes of s.
func Prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// NormalizeSpaces collapses runs of whitespace and trims.
func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}
