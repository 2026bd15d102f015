package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// NavigationHandler receives top-level navigation events for browser tabs.
// Tracker implements it.
type NavigationHandler interface {
	OnCommit(ev NavEvent)
	OnError(ev NavEvent)
	OnCompleted(ev NavEvent)
	OnTabRemoved(tab TabID)
}

// ErrTabNotFound is returned for tabs the Browser is not attached to.
var ErrTabNotFound = errors.New("tab not found")

// eventQueueSize bounds the number of CDP events waiting for dispatch.
const eventQueueSize = 1024

// releaseTimeout bounds the detach sent when letting go of a tab.
const releaseTimeout = time.Second

// BrowserOptions selects and configures the browser to watch.
type BrowserOptions struct {
	// RemoteURL attaches to an already running Chrome (its DevTools endpoint)
	// instead of launching one.
	RemoteURL  string
	ChromePath string
	Headless   bool
	Logger     *zap.Logger
}

// Browser watches the page targets of one Chrome instance and scripts them on
// demand. It implements TabLocator and Snapshotter.
type Browser struct {
	logger *zap.Logger

	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc

	mu   sync.Mutex
	tabs map[TabID]*tabWatch

	events chan func()

	// newTabContext creates the chromedp context attached to an existing tab.
	newTabContext func(parent context.Context, id TabID) (context.Context, context.CancelFunc)
}

// tabWatch is the per-tab attachment.
type tabWatch struct {
	id     TabID
	ctx    context.Context
	cancel context.CancelFunc

	// lastURL is the URL of the last committed top-level navigation. Only
	// touched from the dispatch goroutine.
	lastURL string
}

// NewBrowser launches Chrome, or connects to a running one when
// opts.RemoteURL is set. The connection outlives ctx and is only torn down by
// Close, so cancelling ctx never closes the user's tabs.
func NewBrowser(ctx context.Context, opts BrowserOptions) (*Browser, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// chromedp closes every attached tab whose context ends.
	parent := context.WithoutCancel(ctx)
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(parent, opts.RemoteURL)
	} else {
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(parent, execAllocatorOptions(opts.ChromePath, opts.Headless)...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Browser{
		logger:        logger,
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		tabs:          make(map[TabID]*tabWatch),
		events:        make(chan func(), eventQueueSize),
		newTabContext: attachedTabContext,
	}, nil
}

func attachedTabContext(parent context.Context, id TabID) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(parent, chromedp.WithTargetID(target.ID(id)))
}

// Watch attaches to every page target, current and future, and delivers
// their navigation events to h until ctx is cancelled or the browser goes
// away. Events are delivered one at a time, in the order Chrome sent them.
func (b *Browser) Watch(ctx context.Context, h NavigationHandler) error {
	chromedp.ListenBrowser(b.browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			if e.TargetInfo == nil || e.TargetInfo.Type != "page" {
				return
			}
			id := TabID(e.TargetInfo.TargetID)
			b.enqueue(func() { b.attach(id, h) })
		case *target.EventTargetDestroyed:
			id := TabID(e.TargetID)
			b.enqueue(func() { b.detach(id, h) })
		}
	})

	if err := target.SetDiscoverTargets(true).Do(b.browserExecutor(ctx)); err != nil {
		return fmt.Errorf("enable target discovery: %w", err)
	}
	b.logger.Info("watching browser tabs")

	for {
		select {
		case fn := <-b.events:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		case <-b.browserCtx.Done():
			return fmt.Errorf("browser closed: %w", b.browserCtx.Err())
		}
	}
}

// TabURL returns the URL currently shown by tab.
func (b *Browser) TabURL(ctx context.Context, tab TabID) (string, error) {
	info, err := target.GetTargetInfo().
		WithTargetID(target.ID(tab)).
		Do(b.browserExecutor(ctx))
	if err != nil {
		return "", fmt.Errorf("get target info for tab %s: %w", tab, err)
	}
	return info.URL, nil
}

// Snapshot injects the extraction agent into tab, if it is not there yet, and
// asks it for the current document.
func (b *Browser) Snapshot(ctx context.Context, tab TabID) (Snapshot, error) {
	b.mu.Lock()
	tw, ok := b.tabs[tab]
	b.mu.Unlock()
	if !ok {
		return Snapshot{}, &CaptureError{Tab: tab, Reason: "inject agent", Err: ErrTabNotFound}
	}

	// chromedp resolves the target from the context, so derive from the tab
	// and stop when the caller gives up.
	runCtx, cancel := context.WithCancel(tw.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var reply agentReply
	if err := chromedp.Run(runCtx, agentActions(&reply)...); err != nil {
		return Snapshot{}, &CaptureError{Tab: tab, Reason: "inject agent", Err: err}
	}
	return snapshotFromReply(tab, reply)
}

// Close disconnects from the browser. Watched tabs are detached and left
// open; a launched Chrome is shut down.
func (b *Browser) Close() error {
	b.mu.Lock()
	tabs := b.tabs
	b.tabs = make(map[TabID]*tabWatch)
	b.mu.Unlock()

	for _, tw := range tabs {
		b.release(tw)
	}
	b.cancelBrowser()
	b.cancelAlloc()
	return nil
}

// release ends the attachment to a tab without closing it. chromedp closes
// the target of any attached context that is cancelled, so the session is
// detached and forgotten first.
func (b *Browser) release(tw *tabWatch) {
	if c := chromedp.FromContext(tw.ctx); c != nil && c.Target != nil && c.Browser != nil {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		err := target.DetachFromTarget().
			WithSessionID(c.Target.SessionID).
			Do(cdp.WithExecutor(ctx, c.Browser))
		cancel()
		if err != nil {
			b.logger.Debug("cannot detach from tab", zap.String("tab", string(tw.id)), zap.Error(err))
		}
		c.Target = nil
	}
	tw.cancel()
}

func (b *Browser) browserExecutor(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(b.browserCtx).Browser)
}

func (b *Browser) enqueue(fn func()) {
	select {
	case b.events <- fn:
	default:
		b.logger.Warn("browser event queue full, dropping event")
	}
}

// attach starts listening to a page target. It runs on the dispatch goroutine.
func (b *Browser) attach(id TabID, h NavigationHandler) {
	b.mu.Lock()
	if _, ok := b.tabs[id]; ok {
		b.mu.Unlock()
		return
	}
	tabCtx, cancel := b.newTabContext(b.browserCtx, id)
	tw := &tabWatch{id: id, ctx: tabCtx, cancel: cancel}
	b.tabs[id] = tw
	b.mu.Unlock()

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev.(type) {
		case *page.EventFrameNavigated, *page.EventLoadEventFired:
			b.enqueue(func() { b.dispatch(tw, ev, h) })
		}
	})

	if err := chromedp.Run(tabCtx); err != nil {
		b.logger.Debug("cannot attach to tab", zap.String("tab", string(id)), zap.Error(err))
		b.mu.Lock()
		delete(b.tabs, id)
		b.mu.Unlock()
		b.release(tw)
		return
	}
	b.logger.Debug("attached to tab", zap.String("tab", string(id)))
}

// detach forgets a destroyed target. It runs on the dispatch goroutine.
func (b *Browser) detach(id TabID, h NavigationHandler) {
	b.mu.Lock()
	tw, ok := b.tabs[id]
	delete(b.tabs, id)
	b.mu.Unlock()
	if !ok {
		return
	}
	// The target is already gone, so there is nothing left to close.
	tw.cancel()
	h.OnTabRemoved(id)
}

func (b *Browser) dispatch(tw *tabWatch, ev interface{}, h NavigationHandler) {
	if tw.translate(ev, h) {
		return
	}
	// Attached after the commit: ask Chrome what finished loading.
	url, err := b.TabURL(b.browserCtx, tw.id)
	if err != nil {
		b.logger.Debug("cannot resolve completed url", zap.String("tab", string(tw.id)), zap.Error(err))
		return
	}
	tw.lastURL = url
	h.OnCompleted(NavEvent{Tab: tw.id, URL: url, FrameID: TopFrame})
}

// translate maps a CDP page event onto handler calls. It reports false when a
// load finished for a URL it never saw committed.
func (tw *tabWatch) translate(ev interface{}, h NavigationHandler) bool {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return true
		}
		url := e.Frame.URL + e.Frame.URLFragment
		if e.Frame.UnreachableURL != "" {
			url = e.Frame.UnreachableURL
		}
		tw.lastURL = url

		nav := NavEvent{Tab: tw.id, URL: url, FrameID: TopFrame}
		h.OnCommit(nav)
		if e.Frame.UnreachableURL != "" {
			h.OnError(nav)
		}
	case *page.EventLoadEventFired:
		if tw.lastURL == "" {
			return false
		}
		h.OnCompleted(NavEvent{Tab: tw.id, URL: tw.lastURL, FrameID: TopFrame})
	}
	return true
}
