// Package timeline is the sink for completed Activity records. The collector
// appends; readers (the CLI) list. All mutation goes through a single store
// instance guarded by its own lock.
package timeline

import (
	"context"

	"activityd/internal/activity"
)

// Storage receives Activity records and their appended assets/snapshots.
// Eviction policy is the implementation's concern.
type Storage interface {
	// StartActivity records a new activity as the current focus session.
	StartActivity(ctx context.Context, act *activity.Activity) error

	// AppendAssets attaches assets to an existing activity.
	AppendAssets(ctx context.Context, activityID string, assets []activity.ActivityAsset) error

	// AppendSnapshots attaches snapshots to an existing activity.
	AppendSnapshots(ctx context.Context, activityID string, snaps []activity.ActivitySnapshot) error

	// Recent returns the most recently updated activities, newest first.
	Recent(ctx context.Context, limit int) ([]activity.Activity, error)

	// Close releases the underlying resources.
	Close() error
}
