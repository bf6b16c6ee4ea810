package tracker

import "github.com/runnerr0/pagetrail/internal/storage"

// WindowNone is the window id reported when no browser window has focus.
const WindowNone = -1

// Tab load states reported by the browser.
const (
	TabLoading  = "loading"
	TabComplete = "complete"
)

// Tab is a snapshot of a browser tab as delivered with an event.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Status   string `json:"status"`
}

// Event is a browser lifecycle event fed to the state machine.
type Event interface {
	eventName() string
}

// TabCreated reports a new tab. It never changes the active slot on its
// own; the browser follows it with TabActivated when the tab is focused.
type TabCreated struct {
	Tab Tab
}

// TabActivated reports that the user switched to Tab in its window.
type TabActivated struct {
	Tab Tab
}

// TabUpdated reports a navigation or load-state change. Status is the
// changed status ("" when only the URL or title changed).
type TabUpdated struct {
	Tab    Tab
	Status string
	URL    string
}

// TabRemoved reports a closed tab.
type TabRemoved struct {
	TabID int
}

// FocusChanged reports a window focus change. WindowID is WindowNone when
// the browser lost focus; otherwise ActiveTab is the focused window's
// active tab, if the host could look it up.
type FocusChanged struct {
	WindowID  int
	ActiveTab *Tab
}

// PageMeta carries metadata extracted from a loaded page.
type PageMeta struct {
	TabID int
	URL   string
	Meta  storage.Meta
}

// Checkpoint flushes the running segment and immediately starts a new one
// for the same page, so accrued time reaches storage without a tab change.
type Checkpoint struct{}

// Shutdown flushes the active tab before the process exits.
type Shutdown struct{}

func (TabCreated) eventName() string   { return "tab_created" }
func (TabActivated) eventName() string { return "tab_activated" }
func (TabUpdated) eventName() string   { return "tab_updated" }
func (TabRemoved) eventName() string   { return "tab_removed" }
func (FocusChanged) eventName() string { return "focus_changed" }
func (PageMeta) eventName() string     { return "page_meta" }
func (Checkpoint) eventName() string   { return "checkpoint" }
func (Shutdown) eventName() string     { return "shutdown" }

// Name returns the wire name of an event.
func Name(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}
