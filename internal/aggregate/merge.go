// Package aggregate folds page-visit deltas into the persisted per-domain
// aggregate and answers the read-only queries made against it.
package aggregate

import (
	"math"

	"github.com/runnerr0/pagetrail/internal/storage"
)

// Merge folds incoming page-visit deltas into existing and returns the new
// aggregate. Neither argument is modified.
//
// Entries are keyed by (domain, page URL). A delta adds its timeSpent only
// when its openedAt is not older than the stored lastVisited. An incoming
// delta whose lastVisited is not after its openedAt carries no time, so a
// delta that was already folded in always has lastVisited > openedAt and
// replaying a batch adds nothing. lastVisited becomes the max of both sides.
// Existing order is kept and new domains and pages are appended.
func Merge(existing, incoming []storage.Domain) []storage.Domain {
	m := newMerger(len(existing) + len(incoming))
	for _, d := range existing {
		m.fold(d, true)
	}
	for _, d := range incoming {
		m.fold(d, false)
	}
	return m.out
}

type merger struct {
	out     []storage.Domain
	domains map[string]int
	pages   []map[string]int
}

func newMerger(capacity int) *merger {
	return &merger{
		out:     make([]storage.Domain, 0, capacity),
		domains: make(map[string]int, capacity),
	}
}

func (m *merger) fold(d storage.Domain, persisted bool) {
	if d.Domain == "" {
		return
	}
	for _, p := range d.Pages {
		if p.Page == "" {
			continue
		}
		di, ok := m.domains[d.Domain]
		if !ok {
			di = len(m.out)
			m.domains[d.Domain] = di
			m.out = append(m.out, storage.Domain{Domain: d.Domain})
			m.pages = append(m.pages, make(map[string]int, len(d.Pages)))
		}
		p.Domain = d.Domain
		p.TimeSpent = sanitizeSeconds(p.TimeSpent)
		if !persisted {
			p.Synced = false
			if p.LastVisited <= p.OpenedAt {
				p.TimeSpent = 0
			}
		}

		pi, ok := m.pages[di][p.Page]
		if !ok {
			p.Meta = cloneMeta(p.Meta)
			m.pages[di][p.Page] = len(m.out[di].Pages)
			m.out[di].Pages = append(m.out[di].Pages, p)
			continue
		}
		mergePage(&m.out[di].Pages[pi], p)
	}
}

func mergePage(dst *storage.Page, in storage.Page) {
	notOlder := in.OpenedAt >= dst.LastVisited
	if notOlder && in.TimeSpent > 0 {
		dst.TimeSpent += in.TimeSpent
		// The collector has not seen the added time yet.
		dst.Synced = false
	}
	if notOlder {
		mergeMeta(&dst.Meta, in.Meta)
	}
	if in.LastVisited > dst.LastVisited {
		dst.LastVisited = in.LastVisited
	}
	if dst.OpenedAt == 0 || (in.OpenedAt != 0 && in.OpenedAt < dst.OpenedAt) {
		dst.OpenedAt = in.OpenedAt
	}
}

func mergeMeta(dst *storage.Meta, in storage.Meta) {
	if in.Title != "" {
		dst.Title = in.Title
	}
	if in.Description != "" {
		dst.Description = in.Description
	}
	if len(in.Tags) > 0 {
		dst.Tags = append([]string(nil), in.Tags...)
	}
}

func cloneMeta(m storage.Meta) storage.Meta {
	if m.Tags != nil {
		m.Tags = append([]string(nil), m.Tags...)
	}
	return m
}

func sanitizeSeconds(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
		return 0
	}
	return s
}

// GroupByDomain builds the transient per-domain grouping of a batch of
// records, in first-seen order.
func GroupByDomain(pages []storage.Page) []storage.Domain {
	var out []storage.Domain
	index := map[string]int{}
	for _, p := range pages {
		if p.Domain == "" {
			continue
		}
		i, ok := index[p.Domain]
		if !ok {
			i = len(out)
			index[p.Domain] = i
			out = append(out, storage.Domain{Domain: p.Domain})
		}
		out[i].Pages = append(out[i].Pages, p)
	}
	return out
}

// Clone returns a deep copy of domains.
func Clone(domains []storage.Domain) []storage.Domain {
	if domains == nil {
		return nil
	}
	out := make([]storage.Domain, len(domains))
	for i, d := range domains {
		out[i] = storage.Domain{Domain: d.Domain, Pages: make([]storage.Page, len(d.Pages))}
		for j, p := range d.Pages {
			p.Meta = cloneMeta(p.Meta)
			out[i].Pages[j] = p
		}
	}
	return out
}
