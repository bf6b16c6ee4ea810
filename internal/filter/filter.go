// Package filter decides which URLs are never tracked.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/runnerr0/pagetrail/internal/resolver"
)

// Rule kinds, matching the rule_type column of the exclusions table.
const (
	KindPrefix = "prefix"
	KindDomain = "domain"
	KindRegex  = "regex"
)

// internalPrefixes are browser-owned pages. They are excluded whatever the
// configured rules say.
var internalPrefixes = []string{
	"about:",
	"chrome://",
	"chrome-extension://",
	"chrome-search://",
	"devtools://",
	"edge://",
	"brave://",
	"moz-extension://",
	"view-source:",
}

// IsInternal reports whether rawURL is a browser-internal page.
func IsInternal(rawURL string) bool {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	for _, p := range internalPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

// Rule is a single exclusion rule.
type Rule struct {
	Kind  string
	Value string
}

// Filter is an immutable set of exclusion rules. The zero value, like a nil
// *Filter, excludes browser-internal pages and empty or malformed URLs.
type Filter struct {
	prefixes []string
	domains  []string
	regexes  []*regexp.Regexp
}

// New compiles rules into a Filter. Invalid regexes are reported rather than
// skipped so that a typo in the config does not silently disable a rule.
func New(rules []Rule) (*Filter, error) {
	f := &Filter{}
	for _, r := range rules {
		v := strings.TrimSpace(r.Value)
		if v == "" {
			continue
		}
		switch r.Kind {
		case KindPrefix:
			f.prefixes = append(f.prefixes, v)
		case KindDomain:
			f.domains = append(f.domains, strings.ToLower(strings.TrimPrefix(v, ".")))
		case KindRegex:
			re, err := regexp.Compile(v)
			if err != nil {
				return nil, fmt.Errorf("compile exclusion regex %q: %w", v, err)
			}
			f.regexes = append(f.regexes, re)
		default:
			return nil, fmt.Errorf("unknown exclusion rule kind %q", r.Kind)
		}
	}
	return f, nil
}

// IsExcluded reports whether rawURL must never produce a page record.
func (f *Filter) IsExcluded(rawURL string) bool {
	u := strings.TrimSpace(rawURL)
	if u == "" || IsInternal(u) {
		return true
	}
	if f == nil {
		_, err := resolver.MainDomain(u)
		return err != nil
	}

	for _, p := range f.prefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}

	if _, err := resolver.MainDomain(u); err != nil {
		return true
	}

	host := resolver.Hostname(u)
	for _, d := range f.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	for _, re := range f.regexes {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled rules.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.prefixes) + len(f.domains) + len(f.regexes)
}
