package scan

import (
	"regexp"
	"strings"
)

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// NormalizeDomain lowercases a user-supplied target and strips scheme,
// path and port so "HTTPS://Example.com/foo" and "example.com" count
// as the same domain for the active-scan check.
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(strings.ToLower(raw))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}

// IsValidDomain checks the normalized target against the same shape
// rule the API documents: registrable DNS names only, no IPs, no
// localhost.
func IsValidDomain(domain string) bool {
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	return domainRegex.MatchString(domain)
}
