package aggregate

import (
	"sort"

	"github.com/runnerr0/pagetrail/internal/storage"
)

// DomainTotal is the total active time spent on one domain.
type DomainTotal struct {
	Domain       string  `json:"domain"`
	TotalSeconds float64 `json:"totalSeconds"`
	Pages        int     `json:"pages"`
}

// AggregateByDomain sums timeSpent per domain, sorted by total descending.
// Ties are broken by domain name so the order is deterministic.
func AggregateByDomain(domains []storage.Domain) []DomainTotal {
	index := map[string]int{}
	totals := make([]DomainTotal, 0, len(domains))
	for _, d := range domains {
		i, ok := index[d.Domain]
		if !ok {
			i = len(totals)
			index[d.Domain] = i
			totals = append(totals, DomainTotal{Domain: d.Domain})
		}
		for _, p := range d.Pages {
			totals[i].TotalSeconds += sanitizeSeconds(p.TimeSpent)
			totals[i].Pages++
		}
	}

	sort.SliceStable(totals, func(a, b int) bool {
		if totals[a].TotalSeconds != totals[b].TotalSeconds {
			return totals[a].TotalSeconds > totals[b].TotalSeconds
		}
		return totals[a].Domain < totals[b].Domain
	})
	return totals
}

// TopDomains returns the first n entries of AggregateByDomain. n <= 0
// returns every domain.
func TopDomains(domains []storage.Domain, n int) []DomainTotal {
	totals := AggregateByDomain(domains)
	if n > 0 && len(totals) > n {
		totals = totals[:n]
	}
	return totals
}

// Unsynced returns only the pages not yet acknowledged by the collector,
// grouped by domain. Domains without unsynced pages are left out.
func Unsynced(domains []storage.Domain) []storage.Domain {
	out := []storage.Domain{}
	for _, d := range domains {
		var pages []storage.Page
		for _, p := range d.Pages {
			if !p.Synced {
				p.Meta = cloneMeta(p.Meta)
				pages = append(pages, p)
			}
		}
		if len(pages) > 0 {
			out = append(out, storage.Domain{Domain: d.Domain, Pages: pages})
		}
	}
	return out
}

// MarkSynced flags as synced every page of current that was pushed and has
// not changed since: timeSpent and lastVisited must still equal the pushed
// values. Time merged while a push was in flight stays unsynced. It returns
// the updated aggregate and the number of pages flipped.
func MarkSynced(current, pushed []storage.Domain) ([]storage.Domain, int) {
	type key struct{ domain, page string }
	sent := map[key]storage.Page{}
	for _, d := range pushed {
		for _, p := range d.Pages {
			sent[key{d.Domain, p.Page}] = p
		}
	}

	out := Clone(current)
	marked := 0
	for i := range out {
		for j := range out[i].Pages {
			p := &out[i].Pages[j]
			s, ok := sent[key{out[i].Domain, p.Page}]
			if !ok || p.Synced {
				continue
			}
			if p.TimeSpent == s.TimeSpent && p.LastVisited == s.LastVisited {
				p.Synced = true
				marked++
			}
		}
	}
	return out, marked
}

// PruneSynced drops pages already acknowledged by the collector and any
// domain left empty. It returns the remaining aggregate and the number of
// pages removed.
func PruneSynced(domains []storage.Domain) ([]storage.Domain, int) {
	out := []storage.Domain{}
	removed := 0
	for _, d := range domains {
		var pages []storage.Page
		for _, p := range d.Pages {
			if p.Synced {
				removed++
				continue
			}
			p.Meta = cloneMeta(p.Meta)
			pages = append(pages, p)
		}
		if len(pages) > 0 {
			out = append(out, storage.Domain{Domain: d.Domain, Pages: pages})
		}
	}
	return out, removed
}

// CountPages returns the total number of pages and how many are unsynced.
func CountPages(domains []storage.Domain) (total, unsynced int) {
	for _, d := range domains {
		for _, p := range d.Pages {
			total++
			if !p.Synced {
				unsynced++
			}
		}
	}
	return total, unsynced
}
