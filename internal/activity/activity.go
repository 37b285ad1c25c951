// Package activity defines the core domain records flowing through the
// collection pipeline: focus events coming from the OS, the Activity records
// aggregated per focus session, and the asset/snapshot variants attached to
// them.
package activity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FocusedWindow describes the application/window the user is focused on.
// It is emitted once per OS focus change and not retained afterwards.
type FocusedWindow struct {
	ProcessID   int32  `json:"process_id"`
	ProcessName string `json:"process_name"`
	WindowTitle string `json:"window_title"`
	Icon        []byte `json:"icon,omitempty"`
}

// AssetKind tags the payload variant carried by an ActivityAsset.
type AssetKind string

const (
	AssetKindPage      AssetKind = "page"
	AssetKindTweetList AssetKind = "tweet_list"
	AssetKindFile      AssetKind = "file"
)

// SnapshotKind tags the payload variant carried by an ActivitySnapshot.
type SnapshotKind string

const (
	SnapshotKindText SnapshotKind = "text"
	SnapshotKindDOM  SnapshotKind = "dom"
)

// ActivityAsset is a discrete captured artifact attached to an Activity.
type ActivityAsset struct {
	Kind       AssetKind       `json:"kind"`
	URL        string          `json:"url,omitempty"`
	Title      string          `json:"title,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	SavedPath  string          `json:"saved_path,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
}

// ActivitySnapshot is a point-in-time capture of changing content during an
// Activity.
type ActivitySnapshot struct {
	Kind    SnapshotKind    `json:"kind"`
	Content json.RawMessage `json:"content,omitempty"`
	TakenAt time.Time       `json:"taken_at"`
}

// Activity represents one continuous focus session on an application/page.
// Created once per focus session and mutated only by appending snapshots and
// assets; lifecycle (eviction) is owned by the timeline store.
type Activity struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Icon        []byte             `json:"icon,omitempty"`
	ProcessName string             `json:"process_name"`
	Assets      []ActivityAsset    `json:"assets,omitempty"`
	Snapshots   []ActivitySnapshot `json:"snapshots,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// New creates an Activity for a fresh focus session.
func New(name, processName string, icon []byte) *Activity {
	now := time.Now().UTC()
	return &Activity{
		ID:          uuid.NewString(),
		Name:        name,
		Icon:        icon,
		ProcessName: processName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AppendAssets attaches assets and bumps UpdatedAt.
func (a *Activity) AppendAssets(assets ...ActivityAsset) {
	if len(assets) == 0 {
		return
	}
	a.Assets = append(a.Assets, assets...)
	a.UpdatedAt = time.Now().UTC()
}

// AppendSnapshots attaches snapshots and bumps UpdatedAt.
func (a *Activity) AppendSnapshots(snaps ...ActivitySnapshot) {
	if len(snaps) == 0 {
		return
	}
	a.Snapshots = append(a.Snapshots, snaps...)
	a.UpdatedAt = time.Now().UTC()
}

// ReportKind identifies what a strategy is reporting to the collector.
type ReportKind int

const (
	// ReportNewActivity starts a new Activity on the timeline.
	ReportNewActivity ReportKind = iota
	// ReportAssets appends assets to the current Activity.
	ReportAssets
	// ReportSnapshots appends snapshots to the current Activity.
	ReportSnapshots
)

// String returns the report kind name.
func (k ReportKind) String() string {
	switch k {
	case ReportNewActivity:
		return "new_activity"
	case ReportAssets:
		return "assets"
	case ReportSnapshots:
		return "snapshots"
	default:
		return "unknown"
	}
}

// Report is the unit a collection strategy emits toward the timeline.
// Exactly one of Activity, Assets or Snapshots is populated, according to Kind.
type Report struct {
	Kind      ReportKind
	Activity  *Activity
	Assets    []ActivityAsset
	Snapshots []ActivitySnapshot
}
