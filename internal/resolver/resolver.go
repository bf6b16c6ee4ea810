// Package resolver maps page URLs to the canonical domain they are grouped
// under in the aggregate.
package resolver

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrMalformedURL is returned when a URL has no parseable hostname. Callers
// treat it as "do not track".
var ErrMalformedURL = errors.New("malformed url")

// shortLabels are second-level labels that never identify a site on their
// own (co.uk, com.au, gov.in, ...).
var shortLabels = map[string]bool{
	"co":  true,
	"com": true,
	"net": true,
	"org": true,
	"gov": true,
	"edu": true,
}

// MainDomain returns the canonical domain for rawURL.
//
// localhost and IP literals come back unchanged. A leading "www." is
// stripped, any other subdomain is kept, so mail.google.com and google.com
// are tracked separately. Registrable suffixes such as co.uk pull in one
// extra label.
func MainDomain(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return "", fmt.Errorf("%w: no hostname in %q", ErrMalformedURL, rawURL)
	}

	if host == "localhost" || net.ParseIP(host) != nil {
		return host, nil
	}

	parts := strings.Split(host, ".")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: empty label in %q", ErrMalformedURL, host)
		}
	}
	if len(parts) == 1 {
		return host, nil
	}

	n := len(parts)
	main := parts[n-2] + "." + parts[n-1]
	if n > 2 && shortLabels[parts[n-2]] {
		main = parts[n-3] + "." + main
	}

	if host == main || host == "www."+main {
		return main, nil
	}
	return host, nil
}

// Hostname returns the lower-cased hostname of rawURL, or "" when it cannot
// be parsed.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
