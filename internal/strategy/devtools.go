package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"activityd/internal/activity"
	"activityd/internal/logging"
)

// DevtoolsStrategy is a pull strategy for browsers exposing a remote
// debugging endpoint. It attaches over the DevTools protocol and answers
// polls with the active page's metadata and DOM, with no extension involved.
type DevtoolsStrategy struct {
	controlURL string

	mu      sync.Mutex
	browser *rod.Browser
	cancel  context.CancelFunc
	win     activity.FocusedWindow
}

// NewDevtoolsStrategy returns a devtools pull strategy attached to the given
// control URL (ws:// debugger endpoint).
func NewDevtoolsStrategy(controlURL string) *DevtoolsStrategy {
	return &DevtoolsStrategy{controlURL: controlURL}
}

func (d *DevtoolsStrategy) Name() string { return "devtools" }

// CanHandle accepts known browser processes.
func (d *DevtoolsStrategy) CanHandle(win activity.FocusedWindow) bool {
	return isBrowserProcess(win.ProcessName)
}

// StartTracking connects to the debugging endpoint and emits the opening
// NewActivity for the active page. When the endpoint cannot be queried the
// activity falls back to window metadata; polls will retry the connection's
// page list.
func (d *DevtoolsStrategy) StartTracking(ctx context.Context, win activity.FocusedWindow, reports chan<- activity.Report) error {
	connCtx, cancel := context.WithCancel(ctx)
	browser := rod.New().ControlURL(d.controlURL).Context(connCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		return fmt.Errorf("strategy: connect devtools endpoint %s: %w", d.controlURL, err)
	}

	d.mu.Lock()
	d.browser = browser
	d.cancel = cancel
	d.win = win
	d.mu.Unlock()

	name := win.WindowTitle
	if page, err := d.activePage(); err == nil {
		if info, err := page.Info(); err == nil && info.URL != "" {
			name = info.URL
		}
	} else {
		logging.Get(logging.CategoryStrategy).Debugw("devtools page list unavailable at start",
			"error", err)
	}

	act := activity.New(name, win.ProcessName, win.Icon)
	select {
	case reports <- activity.Report{Kind: activity.ReportNewActivity, Activity: act}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// HandleProcessChange keeps tracking while focus stays in the same browser
// process; the poll always inspects the currently active page.
func (d *DevtoolsStrategy) HandleProcessChange(win activity.FocusedWindow) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil || win.ProcessID != d.win.ProcessID {
		return false
	}
	d.win = win
	return true
}

// StopTracking drops the devtools connection. The browser itself is left
// running.
func (d *DevtoolsStrategy) StopTracking() {
	d.mu.Lock()
	cancel := d.cancel
	d.browser, d.cancel = nil, nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RetrieveAssets captures the active page's metadata as a page asset.
func (d *DevtoolsStrategy) RetrieveAssets(ctx context.Context) ([]activity.ActivityAsset, error) {
	page, err := d.activePage()
	if err != nil {
		return nil, err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("strategy: devtools page info: %w", err)
	}

	content, err := json.Marshal(map[string]string{"url": info.URL, "title": info.Title})
	if err != nil {
		return nil, err
	}
	return []activity.ActivityAsset{{
		Kind:       activity.AssetKindPage,
		URL:        info.URL,
		Title:      info.Title,
		Content:    content,
		CapturedAt: time.Now().UTC(),
	}}, nil
}

// RetrieveSnapshots captures the active page's DOM.
func (d *DevtoolsStrategy) RetrieveSnapshots(ctx context.Context) ([]activity.ActivitySnapshot, error) {
	page, err := d.activePage()
	if err != nil {
		return nil, err
	}
	html, err := page.Context(ctx).HTML()
	if err != nil {
		return nil, fmt.Errorf("strategy: devtools page html: %w", err)
	}

	content, err := json.Marshal(map[string]string{"html": html})
	if err != nil {
		return nil, err
	}
	return []activity.ActivitySnapshot{{
		Kind:    activity.SnapshotKindDOM,
		Content: content,
		TakenAt: time.Now().UTC(),
	}}, nil
}

func (d *DevtoolsStrategy) activePage() (*rod.Page, error) {
	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()
	if browser == nil {
		return nil, errors.New("strategy: devtools not connected")
	}

	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("strategy: devtools page list: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if string(info.Type) == "page" {
			return p, nil
		}
	}
	return nil, errors.New("strategy: no open page on devtools endpoint")
}
