// Package strategy implements the per-target collection policies driven by
// the collector: a generic pull strategy for ordinary applications, a push
// strategy fed by the browser bridge, and a devtools pull strategy for
// browsers exposing a remote debugging endpoint.
package strategy

import (
	"context"

	"activityd/internal/activity"
)

// Strategy is a collection policy for one focused target. The variant set is
// closed: all implementations live in this package and are resolved through
// the Selector.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// CanHandle reports whether this strategy knows how to collect from the
	// given window's process.
	CanHandle(win activity.FocusedWindow) bool

	// StartTracking begins a collection session for the focused window.
	// Push strategies emit reports asynchronously on the given channel until
	// StopTracking or ctx cancellation; pull strategies emit the opening
	// NewActivity report and then wait to be polled.
	StartTracking(ctx context.Context, win activity.FocusedWindow, reports chan<- activity.Report) error

	// HandleProcessChange is consulted when focus moves while this strategy
	// is tracking. Returning true means the strategy keeps handling the new
	// window (same app, new tab); false tells the caller to stop this
	// strategy and select a new one.
	HandleProcessChange(win activity.FocusedWindow) bool

	// StopTracking ends the session. Safe to call when not tracking.
	StopTracking()

	// RetrieveAssets queries the target for its current assets. Push
	// strategies return nil; their assets arrive as reports.
	RetrieveAssets(ctx context.Context) ([]activity.ActivityAsset, error)

	// RetrieveSnapshots captures the target's current changing content.
	// Push strategies return nil.
	RetrieveSnapshots(ctx context.Context) ([]activity.ActivitySnapshot, error)
}

// browserProcesses are the process names routed to a browser strategy.
var browserProcesses = map[string]struct{}{
	"chrome":        {},
	"chromium":      {},
	"google-chrome": {},
	"msedge":        {},
	"brave":         {},
	"firefox":       {},
}

func isBrowserProcess(name string) bool {
	_, ok := browserProcesses[name]
	return ok
}
