package daemon

import (
	"errors"
	"fmt"

	"github.com/runnerr0/pagetrail/internal/storage"
	"github.com/runnerr0/pagetrail/internal/tracker"
)

// ErrBadEvent is returned for an event envelope that cannot be applied.
var ErrBadEvent = errors.New("bad event")

// eventRequest is the JSON envelope the extension posts for every browser
// lifecycle event.
type eventRequest struct {
	Type     string        `json:"type"`
	TabID    int           `json:"tabId"`
	WindowID *int          `json:"windowId"`
	Status   string        `json:"status"`
	URL      string        `json:"url"`
	Tab      *tracker.Tab  `json:"tab"`
	Meta     *storage.Meta `json:"meta"`
}

func (r eventRequest) tabID() int {
	if r.TabID != 0 {
		return r.TabID
	}
	if r.Tab != nil {
		return r.Tab.ID
	}
	return 0
}

func (r eventRequest) requireTab() (tracker.Tab, error) {
	if r.Tab == nil {
		return tracker.Tab{}, fmt.Errorf("%w: %s requires tab", ErrBadEvent, r.Type)
	}
	tab := *r.Tab
	if tab.ID == 0 {
		tab.ID = r.TabID
	}
	if tab.ID == 0 {
		return tracker.Tab{}, fmt.Errorf("%w: %s requires tab.id", ErrBadEvent, r.Type)
	}
	return tab, nil
}

// toEvent converts the envelope to a tracker event.
func (r eventRequest) toEvent() (tracker.Event, error) {
	switch r.Type {
	case "tab_created":
		tab, err := r.requireTab()
		if err != nil {
			return nil, err
		}
		return tracker.TabCreated{Tab: tab}, nil

	case "tab_activated":
		tab, err := r.requireTab()
		if err != nil {
			return nil, err
		}
		return tracker.TabActivated{Tab: tab}, nil

	case "tab_updated":
		tab, err := r.requireTab()
		if err != nil {
			return nil, err
		}
		switch r.Status {
		case "", tracker.TabLoading, tracker.TabComplete:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrBadEvent, r.Status)
		}
		return tracker.TabUpdated{Tab: tab, Status: r.Status, URL: r.URL}, nil

	case "tab_removed":
		id := r.tabID()
		if id == 0 {
			return nil, fmt.Errorf("%w: tab_removed requires tabId", ErrBadEvent)
		}
		return tracker.TabRemoved{TabID: id}, nil

	case "focus_changed":
		if r.WindowID == nil {
			return nil, fmt.Errorf("%w: focus_changed requires windowId", ErrBadEvent)
		}
		ev := tracker.FocusChanged{WindowID: *r.WindowID}
		if r.Tab != nil && *r.WindowID != tracker.WindowNone {
			tab := *r.Tab
			ev.ActiveTab = &tab
		}
		return ev, nil

	case "page_meta":
		id := r.tabID()
		if id == 0 || r.Meta == nil {
			return nil, fmt.Errorf("%w: page_meta requires tabId and meta", ErrBadEvent)
		}
		return tracker.PageMeta{TabID: id, URL: r.URL, Meta: *r.Meta}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrBadEvent)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadEvent, r.Type)
	}
}
