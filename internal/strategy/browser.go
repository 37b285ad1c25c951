package strategy

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"activityd/internal/activity"
	"activityd/internal/bridge"
	"activityd/internal/logging"
)

// EventSource is the bridge capability the push strategy consumes.
// *bridge.Server satisfies it.
type EventSource interface {
	Registered(pid int32) bool
	Subscribe(pid int32) (<-chan bridge.EventFrame, func())
}

// tabPayload is the body of TAB_UPDATED / TAB_ACTIVATED frames.
type tabPayload struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// assetsPayload is the structured body of ASSETS frames. Older extension
// builds send a bare tweet-list array instead; see decodeAssets.
type assetsPayload struct {
	Kind    activity.AssetKind `json:"kind"`
	URL     string             `json:"url"`
	Title   string             `json:"title"`
	Content json.RawMessage    `json:"content"`
}

// snapshotPayload is the body of SNAPSHOT frames.
type snapshotPayload struct {
	Kind    activity.SnapshotKind `json:"kind"`
	Content json.RawMessage       `json:"content"`
}

// BrowserBridgeStrategy collects from browsers by subscribing to the bridge
// hub and converting pushed events into reports. Retrieve methods are no-ops;
// everything arrives asynchronously.
//
// Focus moving between tabs that share a URL domain is treated as the same
// activity: the duplicate NewActivity is suppressed and only assets and
// snapshots keep flowing.
type BrowserBridgeStrategy struct {
	events EventSource

	mu     sync.Mutex
	pid    int32
	win    activity.FocusedWindow
	domain string
	curURL string

	stop func()
	done chan struct{}
}

// NewBrowserBridgeStrategy returns a push strategy over the given bridge.
func NewBrowserBridgeStrategy(events EventSource) *BrowserBridgeStrategy {
	return &BrowserBridgeStrategy{events: events}
}

func (s *BrowserBridgeStrategy) Name() string { return "browser_bridge" }

// CanHandle accepts known browser processes.
func (s *BrowserBridgeStrategy) CanHandle(win activity.FocusedWindow) bool {
	return isBrowserProcess(win.ProcessName)
}

// StartTracking subscribes to the window's browser PID and starts the event
// loop. If no host is registered for the PID yet, a minimal NewActivity is
// synthesized from window metadata so the timeline is populated while the
// handshake is pending.
func (s *BrowserBridgeStrategy) StartTracking(ctx context.Context, win activity.FocusedWindow, reports chan<- activity.Report) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil
	}
	s.pid = win.ProcessID
	s.win = win
	s.domain = ""
	s.curURL = ""
	s.mu.Unlock()

	if !s.events.Registered(win.ProcessID) {
		logging.Get(logging.CategoryStrategy).Debugw("browser pid not registered, synthesizing activity",
			"browser_pid", win.ProcessID, "window_title", win.WindowTitle)
		act := activity.New(win.WindowTitle, win.ProcessName, win.Icon)
		select {
		case reports <- activity.Report{Kind: activity.ReportNewActivity, Activity: act}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	events, cancel := s.events.Subscribe(win.ProcessID)
	done := make(chan struct{})
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.stop = func() {
		cancel()
		close(stopCh)
	}
	s.mu.Unlock()

	go s.loop(ctx, events, stopCh, done, reports)
	return nil
}

func (s *BrowserBridgeStrategy) loop(ctx context.Context, events <-chan bridge.EventFrame, stopCh <-chan struct{}, done chan struct{}, reports chan<- activity.Report) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev := <-events:
			if rep, ok := s.convert(ev); ok {
				select {
				case reports <- rep:
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				}
			}
		}
	}
}

// convert turns one pushed frame into a report, applying the domain dedup
// rule for tab events. The second return is false when the frame produces
// nothing (duplicate domain, malformed payload).
func (s *BrowserBridgeStrategy) convert(ev bridge.EventFrame) (activity.Report, bool) {
	log := logging.Get(logging.CategoryStrategy)
	switch ev.Action {
	case bridge.ActionTabUpdated, bridge.ActionTabActivated:
		var tab tabPayload
		if err := json.Unmarshal(ev.Payload, &tab); err != nil || tab.URL == "" {
			log.Warnw("dropping malformed tab event", "browser_pid", ev.BrowserPID, "error", err)
			return activity.Report{}, false
		}
		domain := urlDomain(tab.URL)

		s.mu.Lock()
		same := domain != "" && domain == s.domain
		s.domain = domain
		s.curURL = tab.URL
		win := s.win
		s.mu.Unlock()

		if same {
			log.Debugw("same-domain tab change, continuing activity", "domain", domain, "url", tab.URL)
			return activity.Report{}, false
		}
		act := activity.New(tab.URL, win.ProcessName, win.Icon)
		return activity.Report{Kind: activity.ReportNewActivity, Activity: act}, true

	case bridge.ActionAssets:
		asset, ok := s.decodeAssets(ev.Payload)
		if !ok {
			log.Warnw("dropping malformed assets event", "browser_pid", ev.BrowserPID)
			return activity.Report{}, false
		}
		return activity.Report{Kind: activity.ReportAssets, Assets: []activity.ActivityAsset{asset}}, true

	case bridge.ActionSnapshot:
		var snap snapshotPayload
		if err := json.Unmarshal(ev.Payload, &snap); err != nil {
			log.Warnw("dropping malformed snapshot event", "browser_pid", ev.BrowserPID, "error", err)
			return activity.Report{}, false
		}
		if snap.Kind == "" {
			snap.Kind = activity.SnapshotKindDOM
		}
		return activity.Report{Kind: activity.ReportSnapshots, Snapshots: []activity.ActivitySnapshot{{
			Kind:    snap.Kind,
			Content: snap.Content,
			TakenAt: time.Now().UTC(),
		}}}, true

	default:
		log.Debugw("ignoring unknown event action", "action", ev.Action)
		return activity.Report{}, false
	}
}

func (s *BrowserBridgeStrategy) decodeAssets(payload json.RawMessage) (activity.ActivityAsset, bool) {
	s.mu.Lock()
	curURL := s.curURL
	s.mu.Unlock()

	var body assetsPayload
	if err := json.Unmarshal(payload, &body); err == nil && len(body.Content) > 0 {
		if body.Kind == "" {
			body.Kind = activity.AssetKindPage
		}
		if body.URL == "" {
			body.URL = curURL
		}
		return activity.ActivityAsset{
			Kind:       body.Kind,
			URL:        body.URL,
			Title:      body.Title,
			Content:    body.Content,
			CapturedAt: time.Now().UTC(),
		}, true
	}

	// Bare array form: the whole payload is a tweet list.
	if json.Valid(payload) && len(payload) > 0 && payload[0] == '[' {
		return activity.ActivityAsset{
			Kind:       activity.AssetKindTweetList,
			URL:        curURL,
			Content:    payload,
			CapturedAt: time.Now().UTC(),
		}, true
	}
	return activity.ActivityAsset{}, false
}

// HandleProcessChange keeps the session alive as long as focus stays within
// the same browser process.
func (s *BrowserBridgeStrategy) HandleProcessChange(win activity.FocusedWindow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if win.ProcessID != s.pid {
		return false
	}
	s.win = win
	return true
}

// StopTracking cancels the subscription and waits for the event loop.
func (s *BrowserBridgeStrategy) StopTracking() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// RetrieveAssets is a no-op for the push model.
func (s *BrowserBridgeStrategy) RetrieveAssets(context.Context) ([]activity.ActivityAsset, error) {
	return nil, nil
}

// RetrieveSnapshots is a no-op for the push model.
func (s *BrowserBridgeStrategy) RetrieveSnapshots(context.Context) ([]activity.ActivitySnapshot, error) {
	return nil, nil
}

// urlDomain extracts the hostname used for the same-activity comparison.
func urlDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
