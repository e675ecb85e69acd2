package orchestrator

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Keep filename stems well under common filesystem name limits once an
// extension is appended.
const maxFilenameStem = 120

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// SanitizeFilename flattens a media title into a filename stem:
// accents are transliterated to ASCII and every remaining run of
// non-alphanumeric characters collapses to a single underscore.
func SanitizeFilename(title string) string {
	s := transliterate(title)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > maxFilenameStem {
		s = strings.Trim(s[:maxFilenameStem], "_")
	}
	if s == "" {
		return "download"
	}
	return s
}

// transliterate decomposes accented characters and removes the
// combining marks, leaving ASCII equivalents where they exist.
func transliterate(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)), // Mn: Mark, Nonspacing
		norm.NFC,
	)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}
