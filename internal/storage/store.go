package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnavailable wraps every failure to reach the backing store. The
	// tracker keeps undelivered records and retries when it sees it.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an entity already exists.
	ErrDuplicate = errors.New("already exists")
)

// UpdateFunc computes a new page list from the current one. It may run more
// than once if the backend detects a concurrent write, so it must be pure.
type UpdateFunc func(current []Domain) ([]Domain, error)

// Store persists the page-list document and the sync markers. The page list
// is always read and written as a whole.
type Store interface {
	LoadPages(ctx context.Context) ([]Domain, error)
	UpdatePages(ctx context.Context, fn UpdateFunc) ([]Domain, error)
	Marker(ctx context.Context, name string) (time.Time, error)
	SetMarker(ctx context.Context, name string, t time.Time) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// decodePages parses a stored page-list document. Missing documents decode
// to an empty list and broken time values are reset to zero.
func decodePages(data []byte) ([]Domain, error) {
	domains := []Domain{}
	if len(data) == 0 {
		return domains, nil
	}
	if err := json.Unmarshal(data, &domains); err != nil {
		return nil, fmt.Errorf("decode page list: %w", err)
	}
	if domains == nil {
		domains = []Domain{}
	}
	for i := range domains {
		for j := range domains[i].Pages {
			p := &domains[i].Pages[j]
			if math.IsNaN(p.TimeSpent) || math.IsInf(p.TimeSpent, 0) || p.TimeSpent < 0 {
				p.TimeSpent = 0
			}
		}
	}
	return domains, nil
}

func encodePages(domains []Domain) ([]byte, error) {
	if domains == nil {
		domains = []Domain{}
	}
	data, err := json.Marshal(domains)
	if err != nil {
		return nil, fmt.Errorf("encode page list: %w", err)
	}
	return data, nil
}

func decodeMarker(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode marker: %w", err)
	}
	return t, nil
}

func encodeMarker(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func computeStats(domains []Domain) *Stats {
	stats := &Stats{Domains: int64(len(domains))}
	for _, d := range domains {
		for _, p := range d.Pages {
			stats.Pages++
			stats.TotalSeconds += p.TimeSpent
			if !p.Synced {
				stats.UnsyncedPages++
			}
		}
	}
	return stats
}

// CollectStats loads the page list and both markers of s.
func CollectStats(ctx context.Context, s Store) (*Stats, error) {
	domains, err := s.LoadPages(ctx)
	if err != nil {
		return nil, err
	}
	stats := computeStats(domains)

	if stats.LastSync, err = s.Marker(ctx, MarkerLastSync); err != nil {
		return nil, err
	}
	if stats.LastReset, err = s.Marker(ctx, MarkerLastReset); err != nil {
		return nil, err
	}
	return stats, nil
}

func markerKey(name string) string {
	return "marker:" + name
}
