package storage

import "time"

// Domain groups the pages visited under one canonical domain.
type Domain struct {
	Domain string `json:"domain"`
	Pages  []Page `json:"pages"`
}

// Page holds the accumulated active time of one URL. Timestamps are Unix
// milliseconds, as the collector expects them.
type Page struct {
	Page        string  `json:"page"`
	Domain      string  `json:"domain"`
	OpenedAt    int64   `json:"openedAt"`
	TimeSpent   float64 `json:"timeSpent"` // seconds
	LastVisited int64   `json:"lastVisited"`
	Meta        Meta    `json:"meta"`
	Synced      bool    `json:"synced"`
}

// Meta is the page metadata reported by the content script. The tracker
// passes it through untouched.
type Meta struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Marker names stored next to the page list.
const (
	MarkerLastSync  = "lastSync"
	MarkerLastReset = "lastReset"
)

// PageListKey is the document key of the persisted aggregate.
const PageListKey = "pageList"

// Exclusion is a stored exclusion rule.
type Exclusion struct {
	ID        int64
	RuleType  string // "prefix", "domain", "regex"
	RuleValue string
	Reason    string
	IsDefault bool
	CreatedAt time.Time
}

// SyncAttempt is one row of the sync log.
type SyncAttempt struct {
	ID         string
	StartedAt  time.Time
	Status     string // "ok", "failed", "skipped"
	Pages      int
	HTTPStatus int
	Detail     string
}

// Stats holds aggregate statistics about the stored page list.
type Stats struct {
	Domains       int64
	Pages         int64
	UnsyncedPages int64
	TotalSeconds  float64
	LastSync      time.Time
	LastReset     time.Time
}

// UnixMillis converts t to the millisecond timestamps used in Page.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
