// Package normalize provides identity-field normalization used for duplicate matching.
// This is part of the platform layer and contains no business logic.
package normalize

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var professionalNetworkHost = regexp.MustCompile(`^([a-z0-9-]+\.)*(linkedin\.com|xing\.com)$`)

// Name trims s, strips diacritics, lowercases it and collapses internal
// whitespace to single spaces.
func Name(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}

	// transform.Chain keeps state between calls, so build one per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, trimmed)
	if err != nil {
		folded = trimmed
	}

	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// ProfileLink canonicalizes a profile URL to lowercase host and unescaped
// path with the query string, fragment, scheme, "www." prefix and trailing
// slash removed.
// Input that does not parse as a URL with a host is returned trimmed and
// lowercased.
func ProfileLink(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Hostname() == "" {
		return trimmed
	}

	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	return host + strings.TrimRight(parsed.Path, "/")
}

// Host returns the host portion of a link already passed through ProfileLink.
func Host(normalizedLink string) string {
	host, _, _ := strings.Cut(normalizedLink, "/")
	return host
}

// IsProfessionalNetwork reports whether the link points at a recognized
// professional-network profile host.
func IsProfessionalNetwork(link string) bool {
	host := Host(ProfileLink(link))
	return host != "" && professionalNetworkHost.MatchString(host)
}
