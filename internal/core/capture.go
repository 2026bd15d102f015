package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Snapshot is the content captured from a tab at one instant.
type Snapshot struct {
	Title string
	// HTML is the serialized document prefixed with a doctype declaration.
	HTML string
}

// Snapshotter captures the current document of a live tab.
type Snapshotter interface {
	Snapshot(ctx context.Context, tab TabID) (Snapshot, error)
}

// CaptureError reports that a tab could not be scripted or its agent
// refused to produce a snapshot.
type CaptureError struct {
	Tab    TabID
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	msg := "capture"
	if e.Tab != "" {
		msg += " tab " + string(e.Tab)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CaptureError) Unwrap() error { return e.Err }

// agentScript installs the extraction agent into the page once. Running it
// again on a page that already has the agent is a no-op.
const agentScript = `(() => {
	if (window.__pagetrail && window.__pagetrail.version === 1) {
		return true;
	}
	window.__pagetrail = {
		version: 1,
		snapshot() {
			try {
				const root = document.documentElement;
				if (!root) {
					return { ok: false, error: "document has no root element" };
				}
				return {
					ok: true,
					title: document.title || "",
					html: "<!DOCTYPE html>\n" + root.outerHTML,
				};
			} catch (e) {
				return { ok: false, error: String((e && e.message) || e) };
			}
		},
	};
	return true;
})()`

// snapshotRequest asks an installed agent for a snapshot.
const snapshotRequest = `window.__pagetrail ? window.__pagetrail.snapshot() : { ok: false, error: "agent not installed" }`

// agentReply is what the agent answers to snapshotRequest.
type agentReply struct {
	OK    bool   `json:"ok"`
	Title string `json:"title"`
	HTML  string `json:"html"`
	Error string `json:"error"`
}

// agentActions injects the agent and requests a snapshot into reply.
func agentActions(reply *agentReply) []chromedp.Action {
	var installed bool
	return []chromedp.Action{
		chromedp.Evaluate(agentScript, &installed),
		chromedp.Evaluate(snapshotRequest, reply),
	}
}

// snapshotFromReply converts an agent reply into a Snapshot, turning explicit
// failures into a *CaptureError.
func snapshotFromReply(tab TabID, reply agentReply) (Snapshot, error) {
	if !reply.OK {
		reason := reply.Error
		if reason == "" {
			reason = "agent returned no snapshot"
		}
		return Snapshot{}, &CaptureError{Tab: tab, Reason: reason}
	}
	if reply.HTML == "" {
		return Snapshot{}, &CaptureError{Tab: tab, Reason: "agent returned empty document"}
	}

	title := strings.TrimSpace(reply.Title)
	// Some pages leave document.title blank; fall back to parsing HTML.
	if title == "" {
		title = titleFromHTML(reply.HTML)
	}
	return Snapshot{Title: title, HTML: reply.HTML}, nil
}

func titleFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// CaptureOptions controls a one-shot capture of a URL in a fresh browser.
type CaptureOptions struct {
	// ChromePath optionally overrides the Chrome/Chromium executable path.
	ChromePath string
	// Headless controls whether Chrome runs without a visible window.
	Headless bool
	// Timeout is the per-page deadline for navigation + rendering + capture.
	// If <= 0, DefaultCaptureTimeout is used.
	Timeout time.Duration
	// WaitSelector optionally waits for a CSS selector to become visible before
	// capturing the page.
	WaitSelector string
	Logger       *zap.Logger
}

// CaptureURL loads url in a new Chrome instance, waits for it to settle and
// returns a snapshot taken by the same agent used for live tabs.
func CaptureURL(ctx context.Context, url string, opts CaptureOptions) (Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCaptureTimeout
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, execAllocatorOptions(opts.ChromePath, opts.Headless)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, opts.Timeout)
	defer cancelRun()

	waitForNetworkIdle := func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}

		idle := make(chan struct{}, 1)
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		})

		if err := chromedp.Navigate(url).Do(ctx); err != nil {
			return err
		}

		select {
		case <-idle:
			logger.Debug("network idle reached", zap.String("url", url))
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	var reply agentReply
	actions := []chromedp.Action{
		chromedp.ActionFunc(waitForNetworkIdle),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if strings.TrimSpace(opts.WaitSelector) != "" {
		actions = append(actions, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.Sleep(DefaultNetworkIdleDelay))
	actions = append(actions, agentActions(&reply)...)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return Snapshot{}, &CaptureError{Reason: fmt.Sprintf("load %s", url), Err: err}
	}
	return snapshotFromReply("", reply)
}

// execAllocatorOptions builds the Chrome launch flags shared by one-shot
// captures and the long-running browser.
func execAllocatorOptions(chromePath string, headless bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
	)
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	if headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}
