package strategy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"activityd/internal/activity"
)

// GenericStrategy is the pull fallback for applications with no dedicated
// integration. It opens an Activity from window metadata and answers
// snapshot polls with the window title, so every focus session leaves a
// trace on the timeline.
type GenericStrategy struct {
	mu  sync.Mutex
	win activity.FocusedWindow
}

// NewGenericStrategy returns a generic pull strategy.
func NewGenericStrategy() *GenericStrategy {
	return &GenericStrategy{}
}

func (g *GenericStrategy) Name() string { return "generic" }

// CanHandle accepts any process.
func (g *GenericStrategy) CanHandle(activity.FocusedWindow) bool { return true }

// StartTracking records the window and emits the opening NewActivity report.
func (g *GenericStrategy) StartTracking(ctx context.Context, win activity.FocusedWindow, reports chan<- activity.Report) error {
	g.mu.Lock()
	g.win = win
	g.mu.Unlock()

	act := activity.New(win.WindowTitle, win.ProcessName, win.Icon)
	select {
	case reports <- activity.Report{Kind: activity.ReportNewActivity, Activity: act}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// HandleProcessChange always declines; a fresh selection covers every focus
// change for generic targets.
func (g *GenericStrategy) HandleProcessChange(activity.FocusedWindow) bool { return false }

func (g *GenericStrategy) StopTracking() {}

// RetrieveAssets has nothing to pull for a generic target.
func (g *GenericStrategy) RetrieveAssets(context.Context) ([]activity.ActivityAsset, error) {
	return nil, nil
}

// RetrieveSnapshots captures the tracked window's title as a text snapshot.
func (g *GenericStrategy) RetrieveSnapshots(context.Context) ([]activity.ActivitySnapshot, error) {
	g.mu.Lock()
	title := g.win.WindowTitle
	g.mu.Unlock()
	if title == "" {
		return nil, nil
	}

	content, err := json.Marshal(map[string]string{"window_title": title})
	if err != nil {
		return nil, err
	}
	return []activity.ActivitySnapshot{{
		Kind:    activity.SnapshotKindText,
		Content: content,
		TakenAt: time.Now().UTC(),
	}}, nil
}
