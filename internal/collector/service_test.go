package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"activityd/internal/activity"
	"activityd/internal/bridge"
	"activityd/internal/config"
	"activityd/internal/storage"
	"activityd/internal/strategy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// chanHook feeds scripted focus events through the watcher.
type chanHook struct {
	wins chan activity.FocusedWindow
}

func newChanHook() *chanHook {
	return &chanHook{wins: make(chan activity.FocusedWindow, 16)}
}

func (h *chanHook) Run(ctx context.Context, emit func(activity.FocusedWindow)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case win := <-h.wins:
			emit(win)
		}
	}
}

// memStore is an in-memory timeline.Storage.
type memStore struct {
	mu   sync.Mutex
	acts []*activity.Activity
	byID map[string]*activity.Activity
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]*activity.Activity)}
}

func (m *memStore) StartActivity(_ context.Context, act *activity.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *act
	m.acts = append(m.acts, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

func (m *memStore) AppendAssets(_ context.Context, id string, assets []activity.ActivityAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	act, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("unknown activity %s", id)
	}
	act.AppendAssets(assets...)
	return nil
}

func (m *memStore) AppendSnapshots(_ context.Context, id string, snaps []activity.ActivitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	act, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("unknown activity %s", id)
	}
	act.AppendSnapshots(snaps...)
	return nil
}

func (m *memStore) Recent(_ context.Context, limit int) ([]activity.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]activity.Activity, 0, len(m.acts))
	for i := len(m.acts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.acts[i])
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() []activity.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]activity.Activity, len(m.acts))
	for i, act := range m.acts {
		out[i] = *act
	}
	return out
}

// fakeEvents is an in-memory bridge hub for the push strategy.
type fakeEvents struct {
	registered bool
	ch         chan bridge.EventFrame
}

func (f *fakeEvents) Registered(int32) bool { return f.registered }

func (f *fakeEvents) Subscribe(int32) (<-chan bridge.EventFrame, func()) {
	return f.ch, func() {}
}

func (f *fakeEvents) push(t *testing.T, pid int32, action bridge.EventAction, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.ch <- bridge.EventFrame{BrowserPID: pid, Action: action, Payload: raw}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() config.CollectorConfig {
	return config.CollectorConfig{
		FocusTrackingEnabled: true,
		CollectionInterval:   "30ms",
		RestartDelay:         "10ms",
		MaxRestartAttempts:   3,
	}
}

func newTestService(t *testing.T, cfg config.CollectorConfig, events *fakeEvents) (*Service, *memStore, *chanHook, string) {
	t.Helper()
	dir := t.TempDir()
	assets, err := storage.NewAssetStorage(storage.Options{
		BaseDir:        dir,
		OrganizeByType: true,
		UseContentHash: true,
		MaxFileSize:    1 << 20,
	})
	require.NoError(t, err)

	store := newMemStore()
	hook := newChanHook()
	var src strategy.EventSource
	if events != nil {
		src = events
	}
	svc := NewService(Options{
		Config:   cfg,
		Hook:     hook,
		Selector: strategy.NewSelector(src, ""),
		Timeline: store,
		Assets:   assets,
	})
	return svc, store, hook, dir
}

func TestLifecycleErrors(t *testing.T) {
	svc, _, _, _ := newTestService(t, testConfig(), nil)

	require.ErrorIs(t, svc.Stop(), ErrNotRunning)

	require.NoError(t, svc.Start(context.Background()))
	require.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, svc.IsRunning())

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.Equal(t, StateStopped, svc.State())
}

func TestRestartLeavesRunning(t *testing.T) {
	svc, _, _, _ := newTestService(t, testConfig(), nil)

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop() }()

	require.NoError(t, svc.Restart(context.Background()))
	assert.True(t, svc.IsRunning())
	assert.Equal(t, 0, svc.RestartAttempts())
}

func TestRestartAttemptLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRestartAttempts = 2
	svc, _, _, _ := newTestService(t, cfg, nil)

	// A cancelled context aborts each restart before it completes, so the
	// attempt counter is never reset.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.Restart(ctx), context.Canceled)
	require.ErrorIs(t, svc.Restart(ctx), context.Canceled)

	err := svc.Restart(ctx)
	var cerr *CollectionError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "limit 2")
}

func TestBackoffDelayClampsShift(t *testing.T) {
	base := 10 * time.Millisecond

	assert.Equal(t, base, backoffDelay(base, 1))
	assert.Equal(t, 4*base, backoffDelay(base, 3))

	// With no attempt limit the counter can grow without bound; the delay
	// must stay positive instead of overflowing the shift.
	capped := backoffDelay(base, 100)
	assert.Equal(t, base*time.Duration(1<<32), capped)
	assert.Positive(t, capped)
}

func TestJanitorOnlyRunsInManualMode(t *testing.T) {
	newSvc := func(focusTracking bool) (*Service, *storage.Janitor) {
		assets, err := storage.NewAssetStorage(storage.Options{
			BaseDir:        t.TempDir(),
			UseContentHash: true,
			MaxFileSize:    1 << 20,
		})
		require.NoError(t, err)
		_, err = assets.Save([]byte("seed"), "act-1", "seed.txt", "text/plain", "")
		require.NoError(t, err)

		jan, err := storage.NewJanitor(assets, time.Hour, time.Hour)
		require.NoError(t, err)

		cfg := testConfig()
		cfg.FocusTrackingEnabled = focusTracking
		svc := NewService(Options{
			Config:   cfg,
			Hook:     newChanHook(),
			Selector: strategy.NewSelector(nil, ""),
			Timeline: newMemStore(),
			Assets:   assets,
			Janitor:  jan,
		})
		return svc, jan
	}

	// Focus-tracking mode leaves the janitor idle.
	svc, jan := newSvc(true)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
	assert.Zero(t, jan.Stats().FilesIndexed)

	// Manual mode starts it, so the seeded file gets indexed.
	svc, jan = newSvc(false)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
	assert.Equal(t, 1, jan.Stats().FilesIndexed)
}

func TestManualMode(t *testing.T) {
	cfg := testConfig()
	cfg.FocusTrackingEnabled = false
	svc, store, _, _ := newTestService(t, cfg, nil)

	require.NoError(t, svc.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, store.snapshot())
	require.NoError(t, svc.Stop())
}

func TestGenericFocusSessionCollectsSnapshots(t *testing.T) {
	svc, store, hook, _ := newTestService(t, testConfig(), nil)

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop() }()

	hook.wins <- activity.FocusedWindow{ProcessID: 42, ProcessName: "vim", WindowTitle: "notes.md"}

	waitFor(t, "activity with snapshots", func() bool {
		acts := store.snapshot()
		return len(acts) == 1 && len(acts[0].Snapshots) >= 1
	})
	acts := store.snapshot()
	assert.Equal(t, "notes.md", acts[0].Name)
	assert.Equal(t, activity.SnapshotKindText, acts[0].Snapshots[0].Kind)
}

func TestFocusChangeCancelsPreviousSession(t *testing.T) {
	svc, store, hook, _ := newTestService(t, testConfig(), nil)

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop() }()

	hook.wins <- activity.FocusedWindow{ProcessID: 1, ProcessName: "vim", WindowTitle: "first"}
	waitFor(t, "first activity", func() bool { return len(store.snapshot()) == 1 })

	hook.wins <- activity.FocusedWindow{ProcessID: 2, ProcessName: "emacs", WindowTitle: "second"}
	waitFor(t, "second activity", func() bool { return len(store.snapshot()) == 2 })

	// Snapshots keep accruing only on the second activity.
	waitFor(t, "second activity snapshots", func() bool {
		acts := store.snapshot()
		return len(acts[1].Snapshots) >= 2
	})
	first := store.snapshot()[0].Snapshots
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, store.snapshot()[0].Snapshots, len(first))
}

func TestBrowserPipelineEndToEnd(t *testing.T) {
	events := &fakeEvents{registered: true, ch: make(chan bridge.EventFrame, 16)}
	svc, store, hook, dir := newTestService(t, testConfig(), events)

	require.NoError(t, svc.Start(context.Background()))
	defer func() { _ = svc.Stop() }()

	hook.wins <- activity.FocusedWindow{
		ProcessID:   100,
		ProcessName: "chrome",
		WindowTitle: "Example - example.com",
	}

	events.push(t, 100, bridge.ActionTabUpdated, map[string]string{"url": "https://example.com/a", "title": "A"})
	waitFor(t, "activity for first tab", func() bool {
		acts := store.snapshot()
		return len(acts) == 1 && acts[0].Name == "https://example.com/a"
	})

	// Same domain: no new activity.
	events.push(t, 100, bridge.ActionTabUpdated, map[string]string{"url": "https://example.com/b", "title": "B"})
	time.Sleep(150 * time.Millisecond)
	require.Len(t, store.snapshot(), 1)

	// Pushed tweet list lands as an asset persisted through storage.
	events.push(t, 100, bridge.ActionAssets, []map[string]string{{"text": "first tweet"}})
	waitFor(t, "persisted asset", func() bool {
		acts := store.snapshot()
		return len(acts[0].Assets) == 1 && acts[0].Assets[0].SavedPath != ""
	})

	saved := store.snapshot()[0].Assets[0]
	assert.Equal(t, activity.AssetKindTweetList, saved.Kind)
	_, err := os.Stat(filepath.Join(dir, saved.SavedPath))
	require.NoError(t, err)

	// Different domain: a second activity.
	events.push(t, 100, bridge.ActionTabUpdated, map[string]string{"url": "https://other.org/x"})
	waitFor(t, "activity for second domain", func() bool {
		return len(store.snapshot()) == 2
	})
	assert.Equal(t, "https://other.org/x", store.snapshot()[1].Name)
}
