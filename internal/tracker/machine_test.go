package tracker

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetrail/internal/aggregate"
	"github.com/runnerr0/pagetrail/internal/filter"
	"github.com/runnerr0/pagetrail/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return t0.Add(time.Duration(seconds * float64(time.Second)))
}

func newTestMachine(t *testing.T) Machine {
	t.Helper()
	f, err := filter.New([]filter.Rule{
		{Kind: filter.KindPrefix, Value: "chrome://"},
		{Kind: filter.KindPrefix, Value: "about:"},
		{Kind: filter.KindDomain, Value: "bank.example"},
	})
	require.NoError(t, err)
	return NewMachine(f)
}

func complete(id int, url string) Tab {
	return Tab{ID: id, WindowID: 1, URL: url, Title: "title " + url, Status: TabComplete}
}

// step is one event delivered at a given offset from t0.
type step struct {
	at float64
	ev Event
}

// play applies steps in order and returns the final state and every record.
func play(m Machine, s State, steps ...step) (State, []storage.Page) {
	var all []storage.Page
	for _, st := range steps {
		var recs []storage.Page
		s, recs = m.Apply(s, st.ev, at(st.at))
		all = append(all, recs...)
	}
	return s, all
}

func total(recs []storage.Page, url string) float64 {
	var sum float64
	for _, r := range recs {
		if r.Page == url {
			sum += r.TimeSpent
		}
	}
	return sum
}

func TestApply_SwitchTabs(t *testing.T) {
	m := newTestMachine(t)

	s, recs := play(m, State{},
		step{0, TabActivated{Tab: complete(1, "https://a.example.com/x")}},
		step{30, TabActivated{Tab: complete(2, "https://b.example.org/y")}},
	)

	assert.Equal(t, Running, s.Status)
	assert.Equal(t, 2, s.Active.TabID)
	assert.Equal(t, "https://b.example.org/y", s.Active.URL)

	agg := aggregate.Merge(nil, aggregate.GroupByDomain(recs))
	require.Len(t, agg, 2)

	assert.Equal(t, "a.example.com", agg[0].Domain)
	require.Len(t, agg[0].Pages, 1)
	a := agg[0].Pages[0]
	assert.Equal(t, "https://a.example.com/x", a.Page)
	assert.InDelta(t, 30.0, a.TimeSpent, 1e-9)
	assert.Equal(t, at(0).UnixMilli(), a.OpenedAt)
	assert.Equal(t, at(30).UnixMilli(), a.LastVisited)
	assert.False(t, a.Synced)
	assert.Equal(t, "title https://a.example.com/x", a.Meta.Title)

	assert.Equal(t, "b.example.org", agg[1].Domain)
	require.Len(t, agg[1].Pages, 1)
	assert.Equal(t, 0.0, agg[1].Pages[0].TimeSpent)
	assert.False(t, agg[1].Pages[0].Synced)
}

func TestApply_BlurAndRefocus(t *testing.T) {
	m := newTestMachine(t)
	tab := complete(1, "https://example.com/doc")

	s, recs := play(m, State{},
		step{0, TabActivated{Tab: tab}},
		step{10, FocusChanged{WindowID: WindowNone}},
	)
	assert.Equal(t, Idle, s.Status)
	assert.True(t, s.Unfocused)
	assert.InDelta(t, 10.0, total(recs, tab.URL), 1e-9)

	// Five unfocused seconds count for nothing.
	s, more := play(m, s,
		step{15, FocusChanged{WindowID: 1, ActiveTab: &tab}},
		step{22, Shutdown{}},
	)
	assert.False(t, s.Unfocused)
	assert.Equal(t, Idle, s.Status)
	recs = append(recs, more...)

	agg := aggregate.Merge(nil, aggregate.GroupByDomain(recs))
	require.Len(t, agg, 1)
	require.Len(t, agg[0].Pages, 1)
	assert.InDelta(t, 17.0, agg[0].Pages[0].TimeSpent, 1e-9)
}

func TestApply_ExcludedURLsNeverRecorded(t *testing.T) {
	m := newTestMachine(t)

	for _, url := range []string{
		"",
		"chrome://settings",
		"about:blank",
		"https://bank.example/login",
		"https://www.bank.example/",
		"http://[::1",
	} {
		t.Run(url, func(t *testing.T) {
			s, recs := play(m, State{},
				step{0, TabActivated{Tab: complete(1, url)}},
				step{60, Checkpoint{}},
				step{90, TabRemoved{TabID: 1}},
			)
			assert.Empty(t, recs)
			assert.Equal(t, Idle, s.Status)
		})
	}
}

func TestApply_DuplicateActivationIsNoop(t *testing.T) {
	m := newTestMachine(t)
	tab := complete(1, "https://example.com/")

	s, _ := m.Apply(State{}, TabActivated{Tab: tab}, at(0))
	again, recs := m.Apply(s, TabActivated{Tab: tab}, at(5))

	assert.Empty(t, recs)
	assert.Equal(t, s, again)
}

func TestApply_LoadingThenComplete(t *testing.T) {
	m := newTestMachine(t)

	loading := Tab{ID: 3, WindowID: 1, URL: "https://example.com/slow", Status: TabLoading}
	s, recs := m.Apply(State{}, TabActivated{Tab: loading}, at(0))
	assert.Equal(t, Loading, s.Status)
	assert.Equal(t, 3, s.Active.TabID)
	assert.Empty(t, s.Active.URL)
	assert.Empty(t, recs)

	done := complete(3, "https://example.com/slow")
	s, recs = m.Apply(s, TabUpdated{Tab: done, Status: TabComplete}, at(2))
	assert.Equal(t, Running, s.Status)
	require.Len(t, recs, 1)
	assert.Equal(t, 0.0, recs[0].TimeSpent)
	assert.Equal(t, at(2).UnixMilli(), recs[0].OpenedAt)

	_, recs = m.Apply(s, Shutdown{}, at(12))
	require.Len(t, recs, 1)
	assert.InDelta(t, 10.0, recs[0].TimeSpent, 1e-9)
}

func TestApply_NavigationFlushesPreviousURL(t *testing.T) {
	m := newTestMachine(t)

	s, recs := play(m, State{},
		step{0, TabActivated{Tab: complete(1, "https://example.com/one")}},
		step{8, TabUpdated{Tab: Tab{ID: 1, WindowID: 1, URL: "https://example.com/one", Status: TabLoading}, Status: TabLoading}},
		step{9, TabUpdated{Tab: complete(1, "https://example.com/two"), Status: TabComplete}},
		step{13, TabRemoved{TabID: 1}},
	)

	assert.Equal(t, Idle, s.Status)
	assert.InDelta(t, 8.0, total(recs, "https://example.com/one"), 1e-9)
	assert.InDelta(t, 4.0, total(recs, "https://example.com/two"), 1e-9)
}

func TestApply_URLChangeOnCompleteTab(t *testing.T) {
	m := newTestMachine(t)

	// Single-page apps change the URL without a loading phase.
	_, recs := play(m, State{},
		step{0, TabActivated{Tab: complete(1, "https://example.com/#/a")}},
		step{5, TabUpdated{Tab: complete(1, "https://example.com/#/b"), URL: "https://example.com/#/b"}},
		step{7, Shutdown{}},
	)

	assert.InDelta(t, 5.0, total(recs, "https://example.com/#/a"), 1e-9)
	assert.InDelta(t, 2.0, total(recs, "https://example.com/#/b"), 1e-9)
}

func TestApply_TitleUpdateKeepsTimer(t *testing.T) {
	m := newTestMachine(t)
	tab := complete(1, "https://example.com/")

	s, _ := m.Apply(State{}, TabActivated{Tab: tab}, at(0))
	retitled := tab
	retitled.Title = "Inbox (3)"
	s, recs := m.Apply(s, TabUpdated{Tab: retitled}, at(4))
	assert.Empty(t, recs)
	assert.Equal(t, "Inbox (3)", s.Active.Meta.Title)

	_, recs = m.Apply(s, Shutdown{}, at(10))
	require.Len(t, recs, 1)
	assert.InDelta(t, 10.0, recs[0].TimeSpent, 1e-9)
	assert.Equal(t, "Inbox (3)", recs[0].Meta.Title)
}

func TestApply_UpdatesOnOtherTabsIgnored(t *testing.T) {
	m := newTestMachine(t)

	s, _ := m.Apply(State{}, TabActivated{Tab: complete(1, "https://example.com/")}, at(0))
	next, recs := m.Apply(s, TabUpdated{Tab: complete(2, "https://example.org/"), Status: TabComplete}, at(3))
	assert.Empty(t, recs)
	assert.Equal(t, s, next)

	next, recs = m.Apply(s, TabRemoved{TabID: 2}, at(4))
	assert.Empty(t, recs)
	assert.Equal(t, s, next)

	next, recs = m.Apply(s, TabCreated{Tab: complete(5, "https://example.net/")}, at(5))
	assert.Empty(t, recs)
	assert.Equal(t, s, next)
}

func TestApply_RemovedActiveTabFlushes(t *testing.T) {
	m := newTestMachine(t)

	s, recs := play(m, State{},
		step{0, TabActivated{Tab: complete(1, "https://example.com/")}},
		step{6, TabRemoved{TabID: 1}},
		step{9, TabRemoved{TabID: 1}},
	)
	assert.Equal(t, Idle, s.Status)
	assert.InDelta(t, 6.0, total(recs, "https://example.com/"), 1e-9)
}

func TestApply_ActivationWhileUnfocusedIsPaused(t *testing.T) {
	m := newTestMachine(t)
	tab := complete(1, "https://example.com/")

	s, recs := play(m, State{},
		step{0, FocusChanged{WindowID: WindowNone}},
		step{1, TabActivated{Tab: tab}},
	)
	assert.Equal(t, Paused, s.Status)
	assert.Empty(t, recs)

	// Time while paused is never counted, even on a forced flush.
	paused, recs := m.Apply(s, TabRemoved{TabID: 1}, at(30))
	assert.Empty(t, recs)
	assert.Equal(t, Idle, paused.Status)

	// Focus returns without a tab lookup: the paused slot resumes.
	s, recs = m.Apply(s, FocusChanged{WindowID: 1}, at(40))
	assert.Equal(t, Running, s.Status)
	require.Len(t, recs, 1)
	assert.Equal(t, at(40).UnixMilli(), recs[0].OpenedAt)

	_, recs = m.Apply(s, Shutdown{}, at(45))
	require.Len(t, recs, 1)
	assert.InDelta(t, 5.0, recs[0].TimeSpent, 1e-9)
}

func TestApply_FocusOnOtherWindowSwitchesTab(t *testing.T) {
	m := newTestMachine(t)
	other := complete(9, "https://example.org/")
	other.WindowID = 2

	s, recs := play(m, State{},
		step{0, TabActivated{Tab: complete(1, "https://example.com/")}},
		step{12, FocusChanged{WindowID: 2, ActiveTab: &other}},
	)
	assert.Equal(t, 9, s.Active.TabID)
	assert.Equal(t, 2, s.Active.WindowID)
	assert.InDelta(t, 12.0, total(recs, "https://example.com/"), 1e-9)
}

func TestApply_CheckpointSplitsSegment(t *testing.T) {
	m := newTestMachine(t)
	url := "https://example.com/"

	s, first := play(m, State{},
		step{0, TabActivated{Tab: complete(1, url)}},
		step{20, Checkpoint{}},
	)
	assert.Equal(t, Running, s.Status)
	assert.Equal(t, at(20), s.Active.OpenedAt)

	_, second := m.Apply(s, Shutdown{}, at(25))

	agg := aggregate.Merge(nil, aggregate.GroupByDomain(first))
	agg = aggregate.Merge(agg, aggregate.GroupByDomain(first))
	agg = aggregate.Merge(agg, aggregate.GroupByDomain(second))
	require.Len(t, agg, 1)
	require.Len(t, agg[0].Pages, 1)
	assert.InDelta(t, 25.0, agg[0].Pages[0].TimeSpent, 1e-9)
}

func TestApply_CheckpointWhenIdleIsNoop(t *testing.T) {
	m := newTestMachine(t)
	s, recs := m.Apply(State{}, Checkpoint{}, at(0))
	assert.Empty(t, recs)
	assert.Equal(t, State{}, s)
}

func TestApply_PageMetaTravelsWithRecord(t *testing.T) {
	m := newTestMachine(t)
	url := "https://example.com/post"

	s, _ := m.Apply(State{}, TabActivated{Tab: complete(1, url)}, at(0))
	s, _ = m.Apply(s, PageMeta{TabID: 1, URL: url, Meta: storage.Meta{Description: "A post", Tags: []string{"go"}}}, at(1))
	// Metadata for a page the tab already left is dropped.
	s, _ = m.Apply(s, PageMeta{TabID: 1, URL: "https://example.com/old", Meta: storage.Meta{Description: "stale"}}, at(2))

	_, recs := m.Apply(s, Shutdown{}, at(3))
	require.Len(t, recs, 1)
	assert.Equal(t, "A post", recs[0].Meta.Description)
	assert.Equal(t, []string{"go"}, recs[0].Meta.Tags)
	assert.Equal(t, "title "+url, recs[0].Meta.Title)
}

func TestApply_FlushIsOneShot(t *testing.T) {
	m := newTestMachine(t)

	s, _ := m.Apply(State{}, TabActivated{Tab: complete(1, "https://example.com/")}, at(0))
	s, recs := m.Apply(s, Shutdown{}, at(4))
	require.Len(t, recs, 1)

	_, recs = m.Apply(s, Shutdown{}, at(8))
	assert.Empty(t, recs)
}

func TestApply_NilFilterRejectsMalformed(t *testing.T) {
	m := NewMachine(nil)

	s, recs := m.Apply(State{}, TabActivated{Tab: complete(1, "not a url")}, at(0))
	assert.Equal(t, Idle, s.Status)
	assert.Empty(t, recs)

	s, recs = m.Apply(State{}, TabActivated{Tab: complete(1, "https://example.com/")}, at(0))
	assert.Equal(t, Running, s.Status)
	assert.Len(t, recs, 1)
}

type allowAll struct{}

func (allowAll) IsExcluded(string) bool { return false }

func TestApply_InternalPagesNeverTracked(t *testing.T) {
	for name, m := range map[string]Machine{
		"nil excluder":        NewMachine(nil),
		"permissive excluder": NewMachine(allowAll{}),
		"zero machine":        {},
	} {
		t.Run(name, func(t *testing.T) {
			for _, u := range []string{"chrome://newtab/", "about:blank", "chrome-extension://abc/popup.html"} {
				s, recs := m.Apply(State{}, TabActivated{Tab: complete(1, u)}, at(0))
				s, more := m.Apply(s, Shutdown{}, at(30))
				assert.Equal(t, Idle, s.Status, u)
				assert.Empty(t, append(recs, more...), u)
			}
		})
	}
}

func TestApply_SubMillisecondSegmentRecordsNothing(t *testing.T) {
	m := newTestMachine(t)
	start := t0.Add(100 * time.Microsecond)

	s, _ := m.Apply(State{}, TabActivated{Tab: complete(1, "https://example.com/")}, start)
	s, recs := m.Apply(s, Checkpoint{}, t0.Add(900*time.Microsecond))
	assert.Empty(t, recs, "segment inside one millisecond")
	assert.Equal(t, Running, s.Status)

	_, recs = m.Apply(s, Shutdown{}, t0.Add(1200*time.Microsecond))
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.001, recs[0].TimeSpent, 1e-12)
	assert.Greater(t, recs[0].LastVisited, recs[0].OpenedAt)
}

// browserModel is a reference browser: which tab is in front, whether a
// window has focus and what each tab has loaded. Time counts while a focused
// browser shows a loaded, trackable page.
type browserModel struct {
	focused bool
	current int // 0 when no tab is in front
	tabs    map[int]*Tab
}

func (b *browserModel) counting(m Machine) (string, bool) {
	if !b.focused || b.current == 0 {
		return "", false
	}
	tab := b.tabs[b.current]
	if tab.Status != TabComplete || m.excluded(tab.URL) {
		return "", false
	}
	return tab.URL, true
}

func TestApply_RandomSequencesRecordFocusedTime(t *testing.T) {
	m := newTestMachine(t)
	urls := []string{
		"https://a.example.com/x",
		"https://b.example.org/y",
		"https://www.example.co.uk/",
		"https://bank.example/login",
		"chrome://newtab/",
	}
	windows := map[int]int{1: 1, 2: 1, 3: 2}

	for seed := int64(1); seed <= 300; seed++ {
		rng := rand.New(rand.NewSource(seed))
		b := &browserModel{focused: true, tabs: map[int]*Tab{}}
		for id := 1; id <= len(windows); id++ {
			b.tabs[id] = &Tab{ID: id, WindowID: windows[id], URL: urls[rng.Intn(len(urls))], Status: TabComplete}
		}

		var (
			s        State
			now      = t0
			recs     []storage.Page
			expected = map[string]int64{}
		)
		apply := func(ev Event) {
			var out []storage.Page
			s, out = m.Apply(s, ev, now)
			recs = append(recs, out...)
		}

		for i := 0; i < 200; i++ {
			next := now
			if rng.Intn(4) > 0 {
				next = next.Add(time.Duration(rng.Int63n(5000)) * time.Millisecond)
			}
			if rng.Intn(3) == 0 {
				next = next.Add(time.Duration(rng.Intn(1000)) * time.Microsecond)
			}
			if url, ok := b.counting(m); ok {
				expected[url] += next.UnixMilli() - now.UnixMilli()
			}
			now = next

			switch rng.Intn(7) {
			case 0:
				id := 1 + rng.Intn(len(windows))
				b.current = id
				apply(TabActivated{Tab: *b.tabs[id]})
			case 1:
				if b.current != 0 && b.tabs[b.current].Status == TabComplete {
					tab := b.tabs[b.current]
					tab.Status = TabLoading
					apply(TabUpdated{Tab: *tab, Status: TabLoading})
				}
			case 2:
				if b.current != 0 && b.tabs[b.current].Status == TabLoading {
					tab := b.tabs[b.current]
					tab.URL = urls[rng.Intn(len(urls))]
					tab.Status = TabComplete
					apply(TabUpdated{Tab: *tab, Status: TabComplete, URL: tab.URL})
				}
			case 3:
				if b.focused {
					b.focused = false
					apply(FocusChanged{WindowID: WindowNone})
				}
			case 4:
				if !b.focused {
					b.focused = true
					ev := FocusChanged{WindowID: 1}
					if b.current != 0 {
						tab := *b.tabs[b.current]
						ev = FocusChanged{WindowID: tab.WindowID, ActiveTab: &tab}
					}
					apply(ev)
				}
			case 5:
				apply(Checkpoint{})
			case 6:
				if b.current != 0 {
					apply(TabRemoved{TabID: b.current})
					b.tabs[b.current] = &Tab{
						ID:       b.current,
						WindowID: windows[b.current],
						URL:      urls[rng.Intn(len(urls))],
						Status:   TabComplete,
					}
					b.current = 0
				}
			}
		}

		next := now.Add(time.Duration(rng.Int63n(5000)) * time.Millisecond)
		if url, ok := b.counting(m); ok {
			expected[url] += next.UnixMilli() - now.UnixMilli()
		}
		now = next
		apply(Shutdown{})

		recorded := map[string]int64{}
		for _, r := range recs {
			if r.TimeSpent > 0 {
				require.Greater(t, r.LastVisited, r.OpenedAt, "seed %d", seed)
			}
			recorded[r.Page] += int64(math.Round(r.TimeSpent * 1000))
		}
		for url, ms := range expected {
			if ms == 0 {
				delete(expected, url)
			}
		}
		for url, ms := range recorded {
			if ms == 0 {
				delete(recorded, url)
			}
		}
		require.Equal(t, expected, recorded, "seed %d", seed)

		merged := aggregate.Merge(nil, aggregate.GroupByDomain(recs))
		for _, d := range merged {
			for _, p := range d.Pages {
				assert.Equal(t, expected[p.Page], int64(math.Round(p.TimeSpent*1000)), "seed %d page %s", seed, p.Page)
			}
		}
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "unknown", Status(42).String())
}
