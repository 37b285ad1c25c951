package timeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"activityd/internal/activity"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	act := activity.New("https://example.com/a", "chrome", nil)
	require.NoError(t, s.StartActivity(ctx, act))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, act.ID, got[0].ID)
	require.Equal(t, "https://example.com/a", got[0].Name)
	require.Equal(t, "chrome", got[0].ProcessName)
}

func TestAppendAssetsAndSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	act := activity.New("editor", "code", nil)
	require.NoError(t, s.StartActivity(ctx, act))

	assets := []activity.ActivityAsset{
		{Kind: activity.AssetKindTweetList, URL: "https://example.com", Title: "list",
			Content: json.RawMessage(`[{"text":"hi"}]`), SavedPath: "tweet_list/abc.json"},
	}
	require.NoError(t, s.AppendAssets(ctx, act.ID, assets))

	snaps := []activity.ActivitySnapshot{
		{Kind: activity.SnapshotKindText, Content: json.RawMessage(`"body text"`)},
		{Kind: activity.SnapshotKindDOM, Content: json.RawMessage(`{"tag":"html"}`)},
	}
	require.NoError(t, s.AppendSnapshots(ctx, act.ID, snaps))

	got, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Assets, 1)
	require.Len(t, got[0].Snapshots, 2)

	if diff := cmp.Diff(string(assets[0].Content), string(got[0].Assets[0].Content)); diff != "" {
		t.Errorf("asset content mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, activity.SnapshotKindDOM, got[0].Snapshots[1].Kind)
}

func TestAppendToUnknownActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AppendSnapshots(ctx, "no-such-id", []activity.ActivitySnapshot{
		{Kind: activity.SnapshotKindText},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown activity")
}

func TestRecentOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := activity.New("first", "app", nil)
	second := activity.New("second", "app", nil)
	require.NoError(t, s.StartActivity(ctx, first))
	require.NoError(t, s.StartActivity(ctx, second))

	// Touch the first one so it becomes most recent.
	require.NoError(t, s.AppendSnapshots(ctx, first.ID, []activity.ActivitySnapshot{
		{Kind: activity.SnapshotKindText},
	}))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, first.ID, got[0].ID)
}
