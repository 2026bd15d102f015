package core

import (
	"context"
	"reflect"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// unreachableDevTools refuses connections, so every attach fails fast.
const unreachableDevTools = "ws://127.0.0.1:1"

// recordingHandler records navigation calls as strings.
type recordingHandler struct {
	calls []string
}

func (r *recordingHandler) OnCommit(ev NavEvent)    { r.calls = append(r.calls, "commit "+ev.URL) }
func (r *recordingHandler) OnError(ev NavEvent)     { r.calls = append(r.calls, "error "+ev.URL) }
func (r *recordingHandler) OnCompleted(ev NavEvent) { r.calls = append(r.calls, "completed "+ev.URL) }
func (r *recordingHandler) OnTabRemoved(tab TabID)  { r.calls = append(r.calls, "removed "+string(tab)) }

func frameNavigated(frame *cdp.Frame) *page.EventFrameNavigated {
	return &page.EventFrameNavigated{Frame: frame}
}

func TestTabWatch_Translate(t *testing.T) {
	tests := []struct {
		name   string
		events []interface{}
		want   []string
	}{
		{
			name: "successful load",
			events: []interface{}{
				frameNavigated(&cdp.Frame{ID: "F1", URL: "https://example.com/"}),
				&page.EventLoadEventFired{},
			},
			want: []string{"commit https://example.com/", "completed https://example.com/"},
		},
		{
			name: "fragment is part of the url",
			events: []interface{}{
				frameNavigated(&cdp.Frame{ID: "F1", URL: "https://example.com/doc", URLFragment: "#intro"}),
				&page.EventLoadEventFired{},
			},
			want: []string{"commit https://example.com/doc#intro", "completed https://example.com/doc#intro"},
		},
		{
			name: "error page reports the unreachable url",
			events: []interface{}{
				frameNavigated(&cdp.Frame{ID: "F1", URL: "chrome-error://chromewebdata/", UnreachableURL: "https://down.example/"}),
				&page.EventLoadEventFired{},
			},
			want: []string{
				"commit https://down.example/",
				"error https://down.example/",
				"completed https://down.example/",
			},
		},
		{
			name: "sub-frame navigation is ignored",
			events: []interface{}{
				frameNavigated(&cdp.Frame{ID: "F1", URL: "https://example.com/"}),
				frameNavigated(&cdp.Frame{ID: "F2", ParentID: "F1", URL: "https://ads.example/"}),
			},
			want: []string{"commit https://example.com/"},
		},
		{
			name:   "unrelated events are ignored",
			events: []interface{}{&page.EventDomContentEventFired{}},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			tw := &tabWatch{id: "T1"}
			for _, ev := range tt.events {
				if !tw.translate(ev, h) {
					t.Fatalf("translate(%T) reported unknown url", ev)
				}
			}
			if !reflect.DeepEqual(h.calls, tt.want) {
				t.Errorf("calls = %q, want %q", h.calls, tt.want)
			}
		})
	}
}

func TestTabWatch_LoadWithoutCommit(t *testing.T) {
	h := &recordingHandler{}
	tw := &tabWatch{id: "T1"}

	if tw.translate(&page.EventLoadEventFired{}, h) {
		t.Error("expected load without a known url to need resolution")
	}
	if len(h.calls) != 0 {
		t.Errorf("expected no calls, got %q", h.calls)
	}
}

func TestNewBrowser_UnreachableRemote(t *testing.T) {
	if _, err := NewBrowser(context.Background(), BrowserOptions{RemoteURL: unreachableDevTools}); err == nil {
		t.Fatal("expected connecting to a closed port to fail")
	}
}

func TestBrowser_FailedAttachReleasesTab(t *testing.T) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), unreachableDevTools)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	t.Cleanup(func() {
		cancelBrowser()
		cancelAlloc()
	})

	released := 0
	b := &Browser{
		logger:        zap.NewNop(),
		browserCtx:    browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		tabs:          make(map[TabID]*tabWatch),
		events:        make(chan func(), 1),
		newTabContext: func(parent context.Context, id TabID) (context.Context, context.CancelFunc) {
			ctx, cancel := attachedTabContext(parent, id)
			return ctx, func() {
				released++
				cancel()
			}
		},
	}

	b.attach("T1", &recordingHandler{})

	if released != 1 {
		t.Errorf("expected the failed tab context to be released once, got %d", released)
	}
	if len(b.tabs) != 0 {
		t.Errorf("expected no attached tabs, got %d", len(b.tabs))
	}
}

func TestBrowser_CloseReleasesTabs(t *testing.T) {
	var browserClosed, allocClosed bool
	b := &Browser{
		logger:        zap.NewNop(),
		cancelBrowser: func() { browserClosed = true },
		cancelAlloc:   func() { allocClosed = true },
		tabs:          make(map[TabID]*tabWatch),
	}
	var ctxs []context.Context
	for _, id := range []TabID{"T1", "T2"} {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		b.tabs[id] = &tabWatch{id: id, ctx: ctx, cancel: cancel}
	}

	if err := b.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Errorf("expected tab %d to be released", i)
		}
	}
	if len(b.tabs) != 0 {
		t.Errorf("expected no attached tabs, got %d", len(b.tabs))
	}
	if !browserClosed || !allocClosed {
		t.Error("expected the browser connection to be closed")
	}
	if _, err := b.Snapshot(context.Background(), "T1"); err == nil {
		t.Error("expected snapshots of released tabs to fail")
	}
}
