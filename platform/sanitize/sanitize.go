// Package sanitize cleans user-provided free text before it is stored.
package sanitize

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup, decodes entities and strips again so encoded
// tags do not survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = html.UnescapeString(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Text strips markup and collapses runs of whitespace to one space.
// Use for single-line fields such as names and titles.
func Text(s string) string {
	return strings.Join(strings.Fields(StripHTML(s)), " ")
}

// Note strips markup from multi-line text, keeping line breaks, and cuts
// it to at most maxRunes runes. maxRunes <= 0 means no limit.
func Note(s string, maxRunes int) string {
	lines := strings.Split(StripHTML(s), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	result := strings.TrimSpace(strings.Join(lines, "\n"))
	if maxRunes > 0 && utf8.RuneCountInString(result) > maxRunes {
		result = strings.TrimSpace(string([]rune(result)[:maxRunes]))
	}
	return result
}
