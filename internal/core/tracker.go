package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seckatie/pagetrail/internal/core/db"
	"go.uber.org/zap"
)

// SettingsSource supplies the current capture settings.
type SettingsSource interface {
	GetSettings() (db.Settings, error)
}

// TabLocator reports the URL a tab currently shows.
type TabLocator interface {
	TabURL(ctx context.Context, tab TabID) (string, error)
}

// Scheduler runs f after d. The returned function cancels the call and
// reports whether it was still pending.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

// realScheduler schedules on the runtime timer heap.
type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// TrackerConfig wires a Tracker to its collaborators.
type TrackerConfig struct {
	Settings    SettingsSource
	Tabs        TabLocator
	Snapshotter Snapshotter
	Archiver    *Archiver
	Policy      *Policy
	// Scheduler defaults to real timers.
	Scheduler Scheduler
	// CaptureTimeout bounds one timer-fire continuation. Defaults to
	// DefaultCaptureTimeout.
	CaptureTimeout time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// Tracker feeds browser navigation events into a Machine and carries out the
// resulting intents: it owns the dwell timers and runs the capture pipeline
// when one fires. Event methods never block on I/O other than the settings
// read on completion, and never return errors: failures are logged.
type Tracker struct {
	cfg    TrackerConfig
	logger *zap.Logger

	mu      sync.Mutex
	machine *Machine
	cancels map[TimerID]func() bool
	closed  bool

	inFlight sync.WaitGroup
}

// NewTracker returns a Tracker ready to receive events.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Scheduler == nil {
		cfg.Scheduler = realScheduler{}
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = DefaultCaptureTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:     cfg,
		logger:  cfg.Logger,
		machine: NewMachine(cfg.Policy),
		cancels: make(map[TimerID]func() bool),
	}
}

// OnCommit handles a committed navigation.
func (t *Tracker) OnCommit(ev NavEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apply(t.machine.OnCommit(ev))
}

// OnError handles a failed navigation.
func (t *Tracker) OnError(ev NavEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.FrameID == TopFrame {
		t.logger.Debug("navigation failed", zap.String("tab", string(ev.Tab)), zap.String("url", ev.URL))
	}
	t.apply(t.machine.OnError(ev))
}

// OnCompleted handles a finished navigation. Settings are read at this point;
// if they cannot be read the navigation is skipped.
func (t *Tracker) OnCompleted(ev NavEvent) {
	if ev.FrameID != TopFrame {
		return
	}

	settings, err := t.cfg.Settings.GetSettings()
	if err != nil {
		t.logger.Warn("cannot read settings, skipping navigation",
			zap.String("tab", string(ev.Tab)),
			zap.String("url", ev.URL),
			zap.Error(err),
		)
		t.OnCommit(ev)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	intents := t.machine.OnCompleted(ev, settings, t.cfg.Now())
	if state, _ := t.machine.State(ev.Tab); state == StateIdle {
		t.logger.Debug("navigation not eligible for capture",
			zap.String("tab", string(ev.Tab)),
			zap.String("url", ev.URL),
		)
	}
	t.apply(intents)
}

// OnTabRemoved handles a closed tab.
func (t *Tracker) OnTabRemoved(tab TabID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apply(t.machine.OnTabRemoved(tab))
}

// State reports a tab's state.
func (t *Tracker) State(tab TabID) (TabState, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.State(tab)
}

// Close cancels every pending timer, stops accepting new ones and waits for
// captures already running.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for id, cancel := range t.cancels {
		cancel()
		delete(t.cancels, id)
	}
	t.mu.Unlock()

	t.inFlight.Wait()
}

// apply carries out intents. Must be called with t.mu held.
func (t *Tracker) apply(intents []Intent) {
	for _, intent := range intents {
		switch in := intent.(type) {
		case ScheduleCapture:
			if t.closed {
				continue
			}
			tab, timer := in.Tab, in.Timer
			t.cancels[timer] = t.cfg.Scheduler.AfterFunc(in.Delay, func() {
				t.fire(tab, timer)
			})
			t.logger.Debug("capture scheduled",
				zap.String("tab", string(tab)),
				zap.String("url", in.URL),
				zap.Duration("delay", in.Delay),
			)
		case CancelCapture:
			if cancel, ok := t.cancels[in.Timer]; ok {
				cancel()
				delete(t.cancels, in.Timer)
			}
		case StartCapture:
			t.inFlight.Add(1)
			go t.capture(in)
		}
	}
}

// fire is the timer callback.
func (t *Tracker) fire(tab TabID, timer TimerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancels, timer)
	if t.closed {
		return
	}
	t.apply(t.machine.OnTimerFired(tab, timer))
}

// capture is the timer-fire continuation. It runs without the lock so other
// tabs' events interleave freely, and always releases the tab's state.
func (t *Tracker) capture(in StartCapture) {
	defer t.inFlight.Done()
	defer func() {
		t.mu.Lock()
		t.apply(t.machine.OnCaptureFinished(in.Tab, in.Timer))
		t.mu.Unlock()
	}()

	logger := t.logger.With(zap.String("tab", string(in.Tab)), zap.String("url", in.URL))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("capture panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CaptureTimeout)
	defer cancel()

	if err := t.runCapture(ctx, in, logger); err != nil {
		logger.Warn("capture attempt failed", zap.Error(err))
	}
}

func (t *Tracker) runCapture(ctx context.Context, in StartCapture, logger *zap.Logger) error {
	current, err := t.cfg.Tabs.TabURL(ctx, in.Tab)
	if err != nil {
		logger.Debug("tab unreachable, dropping capture", zap.Error(err))
		return nil
	}
	if current != in.URL {
		logger.Debug("tab navigated away, dropping capture", zap.String("current_url", current))
		return nil
	}

	res, err := t.cfg.Archiver.Archive(ctx, in.URL, func(ctx context.Context) (Snapshot, error) {
		return t.cfg.Snapshotter.Snapshot(ctx, in.Tab)
	})
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	logger.Debug("capture finished", zap.String("outcome", string(res.Outcome)))
	return nil
}
