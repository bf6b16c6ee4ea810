// Package tracker decides which tab is active and turns browser lifecycle
// events into page-visit records.
//
// The state machine is a pure function, Machine.Apply, from (state, event,
// now) to (state, records). Tracker wraps it with a single goroutine that
// drains an event queue and hands the records to a Committer.
package tracker

import (
	"time"

	"github.com/runnerr0/pagetrail/internal/filter"
	"github.com/runnerr0/pagetrail/internal/resolver"
	"github.com/runnerr0/pagetrail/internal/storage"
	"github.com/runnerr0/pagetrail/internal/timer"
)

// Status is the state of the active-tab slot.
type Status int

const (
	// Idle: no URL, no timer.
	Idle Status = iota
	// Loading: the slot's tab is navigating; nothing is counted.
	Loading
	// Running: the tab is active in a focused window and its timer counts.
	Running
	// Paused: the tab is active but no window has focus.
	Paused
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// ActiveTab is the tab currently holding the slot.
type ActiveTab struct {
	TabID    int
	WindowID int
	URL      string
	Domain   string
	OpenedAt time.Time
	Timer    timer.Timer
	Meta     storage.Meta
}

// State is everything the state machine knows. The zero value is an idle
// slot in a focused browser.
type State struct {
	Status    Status
	Active    ActiveTab
	Unfocused bool
}

// Excluder reports URLs that must never be tracked.
type Excluder interface {
	IsExcluded(rawURL string) bool
}

// Machine applies lifecycle events to a State.
type Machine struct {
	filter Excluder
}

// NewMachine returns a Machine using excluder for exclusions. Browser
// internal pages, empty and malformed URLs are rejected even when excluder
// is nil.
func NewMachine(excluder Excluder) Machine {
	return Machine{filter: excluder}
}

// Apply returns the state after ev and the page-visit records emitted by the
// transition. s is not modified.
func (m Machine) Apply(s State, ev Event, now time.Time) (State, []storage.Page) {
	switch e := ev.(type) {
	case TabActivated:
		return m.onActivated(s, e.Tab, now)
	case TabUpdated:
		return m.onUpdated(s, e, now)
	case TabRemoved:
		return m.onRemoved(s, e.TabID, now)
	case FocusChanged:
		return m.onFocusChanged(s, e, now)
	case PageMeta:
		return onPageMeta(s, e), nil
	case Checkpoint:
		return m.onCheckpoint(s, now)
	case Shutdown:
		return flush(s, now)
	default:
		// TabCreated and unknown events leave the slot alone.
		return s, nil
	}
}

func (m Machine) onActivated(s State, tab Tab, now time.Time) (State, []storage.Page) {
	if s.Status == Running && s.Active.TabID == tab.ID && s.Active.URL == tab.URL {
		return s, nil
	}
	next, recs := flush(s, now)
	next, opened := m.activate(next, tab, now, true)
	return next, append(recs, opened...)
}

func (m Machine) onUpdated(s State, e TabUpdated, now time.Time) (State, []storage.Page) {
	if s.Active.TabID == 0 || e.Tab.ID != s.Active.TabID {
		return s, nil
	}

	url := e.Tab.URL
	if url == "" {
		url = e.URL
	}

	switch {
	case e.Status == TabLoading:
		next, recs := flush(s, now)
		next.Status = Loading
		next.Active = ActiveTab{TabID: e.Tab.ID, WindowID: e.Tab.WindowID}
		return next, recs

	case e.Status == TabComplete || (e.URL != "" && e.Tab.Status == TabComplete):
		if tracking(s) && s.Active.URL == url {
			return withTitle(s, e.Tab.Title), nil
		}
		tab := e.Tab
		tab.URL = url
		tab.Status = TabComplete
		next, recs := flush(s, now)
		next, opened := m.activate(next, tab, now, true)
		return next, append(recs, opened...)

	default:
		if tracking(s) && (url == "" || s.Active.URL == url) {
			return withTitle(s, e.Tab.Title), nil
		}
		return s, nil
	}
}

func (m Machine) onRemoved(s State, tabID int, now time.Time) (State, []storage.Page) {
	if tabID == 0 || s.Active.TabID != tabID {
		return s, nil
	}
	return flush(s, now)
}

func (m Machine) onFocusChanged(s State, e FocusChanged, now time.Time) (State, []storage.Page) {
	if e.WindowID == WindowNone {
		next, recs := flush(s, now)
		next.Unfocused = true
		return next, recs
	}

	s.Unfocused = false
	tab := e.ActiveTab
	if tab == nil {
		if s.Status != Paused {
			return s, nil
		}
		tab = &Tab{
			ID:       s.Active.TabID,
			WindowID: e.WindowID,
			URL:      s.Active.URL,
			Title:    s.Active.Meta.Title,
			Status:   TabComplete,
		}
	}

	if s.Status == Running && s.Active.TabID == tab.ID && s.Active.URL == tab.URL {
		return s, nil
	}
	meta := s.Active.Meta
	resumed := s.Status == Paused && s.Active.TabID == tab.ID && s.Active.URL == tab.URL

	next, recs := flush(s, now)
	next, opened := m.activate(next, *tab, now, true)
	if resumed {
		next.Active.Meta = meta
	}
	return next, append(recs, opened...)
}

func (m Machine) onCheckpoint(s State, now time.Time) (State, []storage.Page) {
	if s.Status != Running {
		return s, nil
	}
	active := s.Active
	tab := Tab{
		ID:       active.TabID,
		WindowID: active.WindowID,
		URL:      active.URL,
		Title:    active.Meta.Title,
		Status:   TabComplete,
	}
	next, recs := flush(s, now)
	next, _ = m.activate(next, tab, now, false)
	next.Active.Meta = active.Meta
	return next, recs
}

func onPageMeta(s State, e PageMeta) State {
	if !tracking(s) || s.Active.TabID != e.TabID {
		return s
	}
	if e.URL != "" && e.URL != s.Active.URL {
		return s
	}
	meta := s.Active.Meta
	if e.Meta.Title != "" {
		meta.Title = e.Meta.Title
	}
	if e.Meta.Description != "" {
		meta.Description = e.Meta.Description
	}
	if len(e.Meta.Tags) > 0 {
		meta.Tags = append([]string(nil), e.Meta.Tags...)
	}
	s.Active.Meta = meta
	return s
}

// activate puts tab into the slot, which must already be flushed. Only a
// loaded, trackable tab in a focused window starts counting; when announce
// is set it also emits a zero-duration record so the page shows up in the
// aggregate right away.
func (m Machine) activate(s State, tab Tab, now time.Time, announce bool) (State, []storage.Page) {
	s.Active = ActiveTab{TabID: tab.ID, WindowID: tab.WindowID}

	if tab.Status != TabComplete {
		s.Status = Loading
		return s, nil
	}
	if m.excluded(tab.URL) {
		s.Status = Idle
		return s, nil
	}
	domain, err := resolver.MainDomain(tab.URL)
	if err != nil {
		s.Status = Idle
		return s, nil
	}

	s.Active.URL = tab.URL
	s.Active.Domain = domain
	s.Active.OpenedAt = now
	s.Active.Meta = storage.Meta{Title: tab.Title}

	if s.Unfocused {
		s.Status = Paused
		return s, nil
	}

	s.Status = Running
	s.Active.Timer = timer.Timer{}.Start(now)
	if !announce {
		return s, nil
	}
	return s, []storage.Page{record(s.Active, 0, now)}
}

func (m Machine) excluded(url string) bool {
	if filter.IsInternal(url) {
		return true
	}
	if m.filter == nil {
		_, err := resolver.MainDomain(url)
		return url == "" || err != nil
	}
	return m.filter.IsExcluded(url)
}

// flush reads the slot's timer, emits its elapsed time as a record and
// resets the slot, keeping only the focus flag. Flushing an idle or loading
// slot emits nothing, so a duplicate event cannot count the same interval
// twice.
//
// The timer starts at OpenedAt and counts whole milliseconds, so a record
// with positive timeSpent always has lastVisited > openedAt. aggregate.Merge
// relies on that to ignore a replayed record.
func flush(s State, now time.Time) (State, []storage.Page) {
	var recs []storage.Page
	if tracking(s) && s.Active.Timer.Running() {
		t := s.Active.Timer.Pause(now)
		if secs := t.Seconds(now); secs > 0 {
			recs = append(recs, record(s.Active, secs, now))
		}
	}
	return State{Unfocused: s.Unfocused}, recs
}

func record(a ActiveTab, seconds float64, now time.Time) storage.Page {
	meta := a.Meta
	if meta.Tags != nil {
		meta.Tags = append([]string(nil), meta.Tags...)
	}
	return storage.Page{
		Page:        a.URL,
		Domain:      a.Domain,
		OpenedAt:    storage.UnixMillis(a.OpenedAt),
		TimeSpent:   seconds,
		LastVisited: storage.UnixMillis(now),
		Meta:        meta,
	}
}

func tracking(s State) bool {
	return (s.Status == Running || s.Status == Paused) && s.Active.URL != ""
}

func withTitle(s State, title string) State {
	if title != "" {
		s.Active.Meta.Title = title
	}
	return s
}
