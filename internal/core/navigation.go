package core

import (
	"time"

	"github.com/seckatie/pagetrail/internal/core/db"
)

// TabID identifies a browser tab (a page target).
type TabID string

// TopFrame is the FrameID of a tab's top-level frame. Events for any other
// frame are ignored.
const TopFrame = 0

// NavEvent is a navigation lifecycle event delivered by the browser.
type NavEvent struct {
	Tab     TabID
	URL     string
	FrameID int
}

func (ev NavEvent) topLevel() bool { return ev.FrameID == TopFrame }

// TimerID identifies one scheduled capture. IDs are never reused by a
// Machine, so a stale timer can always be told apart from the current one.
type TimerID uint64

// TabState is the externally visible state of a tab.
type TabState int

const (
	// StateIdle means nothing is scheduled for the tab.
	StateIdle TabState = iota
	// StatePendingDwell means a capture is scheduled after the dwell time.
	StatePendingDwell
	// StateCaptureInFlight means the timer fired and a capture is running.
	StateCaptureInFlight
)

func (s TabState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingDwell:
		return "pending_dwell"
	case StateCaptureInFlight:
		return "capture_in_flight"
	default:
		return "unknown"
	}
}

// Intent is a side effect requested by a Machine transition.
type Intent interface {
	isIntent()
}

// ScheduleCapture asks for Timer to fire after Delay.
type ScheduleCapture struct {
	Tab   TabID
	Timer TimerID
	URL   string
	Delay time.Duration
}

// CancelCapture asks for a previously scheduled Timer to be stopped.
type CancelCapture struct {
	Tab   TabID
	Timer TimerID
}

// StartCapture asks for the capture pipeline to run for URL.
type StartCapture struct {
	Tab   TabID
	Timer TimerID
	URL   string
}

func (ScheduleCapture) isIntent() {}
func (CancelCapture) isIntent()   {}
func (StartCapture) isIntent()    {}

// navState is the tracked state of one tab with a completed navigation.
type navState struct {
	url         string
	completedAt time.Time
	timer       TimerID
	inFlight    bool
}

// Machine is the per-tab navigation debounce state machine. It owns all
// per-tab state and performs no I/O: every transition returns the intents
// the caller must carry out. A Machine is not safe for concurrent use.
type Machine struct {
	policy    *Policy
	nav       map[TabID]*navState
	errored   map[TabID]string
	lastTimer TimerID
}

// NewMachine returns an empty Machine that consults policy on completion.
func NewMachine(policy *Policy) *Machine {
	if policy == nil {
		policy = NewPolicy(nil)
	}
	return &Machine{
		policy:  policy,
		nav:     make(map[TabID]*navState),
		errored: make(map[TabID]string),
	}
}

// OnCommit handles a committed navigation. A new top-level navigation
// invalidates anything pending for the tab's previous URL.
func (m *Machine) OnCommit(ev NavEvent) []Intent {
	if !ev.topLevel() {
		return nil
	}
	return m.clear(ev.Tab)
}

// OnError records that the top-level navigation to ev.URL failed so that a
// later completion for the same URL is suppressed.
func (m *Machine) OnError(ev NavEvent) []Intent {
	if !ev.topLevel() {
		return nil
	}
	m.errored[ev.Tab] = ev.URL
	return nil
}

// OnCompleted handles a finished top-level navigation. It schedules a
// capture after the dwell time when the URL is eligible.
func (m *Machine) OnCompleted(ev NavEvent, settings db.Settings, now time.Time) []Intent {
	if !ev.topLevel() {
		return nil
	}

	erroredURL, hadError := m.errored[ev.Tab]
	delete(m.errored, ev.Tab)

	intents := m.clear(ev.Tab)
	if hadError && erroredURL == ev.URL {
		return intents
	}
	if !m.policy.IsEligible(ev.URL, settings) {
		return intents
	}

	m.lastTimer++
	timer := m.lastTimer
	m.nav[ev.Tab] = &navState{
		url:         ev.URL,
		completedAt: now,
		timer:       timer,
	}
	return append(intents, ScheduleCapture{
		Tab:   ev.Tab,
		Timer: timer,
		URL:   ev.URL,
		Delay: settings.MinStay(),
	})
}

// OnTimerFired handles expiry of a dwell timer. Stale timers (already
// cancelled or superseded) produce no intents.
func (m *Machine) OnTimerFired(tab TabID, timer TimerID) []Intent {
	st, ok := m.nav[tab]
	if !ok || st.timer != timer || st.inFlight {
		return nil
	}
	st.inFlight = true
	return []Intent{StartCapture{Tab: tab, Timer: timer, URL: st.url}}
}

// OnCaptureFinished releases the tab after the capture started by timer
// ended, whatever its outcome. State belonging to a newer navigation is left
// alone.
func (m *Machine) OnCaptureFinished(tab TabID, timer TimerID) []Intent {
	if st, ok := m.nav[tab]; ok && st.timer == timer {
		delete(m.nav, tab)
	}
	return nil
}

// OnTabRemoved drops everything tracked for a closed tab.
func (m *Machine) OnTabRemoved(tab TabID) []Intent {
	delete(m.errored, tab)
	return m.clear(tab)
}

// State reports the tab's current state and, when not idle, the URL it
// tracks.
func (m *Machine) State(tab TabID) (TabState, string) {
	st, ok := m.nav[tab]
	switch {
	case !ok:
		return StateIdle, ""
	case st.inFlight:
		return StateCaptureInFlight, st.url
	default:
		return StatePendingDwell, st.url
	}
}

// Tracked returns the number of tabs with state.
func (m *Machine) Tracked() int {
	return len(m.nav)
}

// clear removes the tab's state, cancelling a timer that has not fired yet.
func (m *Machine) clear(tab TabID) []Intent {
	st, ok := m.nav[tab]
	if !ok {
		return nil
	}
	delete(m.nav, tab)
	if st.inFlight {
		return nil
	}
	return []Intent{CancelCapture{Tab: tab, Timer: st.timer}}
}
