package focus

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"activityd/internal/activity"
)

// scriptedHook emits a fixed set of windows, then blocks until cancelled.
type scriptedHook struct {
	windows []activity.FocusedWindow
	runs    int32
	failure error // returned after emitting, instead of blocking
}

func (h *scriptedHook) Run(ctx context.Context, emit func(activity.FocusedWindow)) error {
	atomic.AddInt32(&h.runs, 1)
	for _, w := range h.windows {
		emit(w)
	}
	if h.failure != nil {
		return h.failure
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestWatcherDeliversEventsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	hook := &scriptedHook{windows: []activity.FocusedWindow{
		{ProcessID: 1, ProcessName: "code", WindowTitle: "main.go"},
		{ProcessID: 2, ProcessName: "chrome", WindowTitle: "Example"},
		{ProcessID: 1, ProcessName: "code", WindowTitle: "watcher.go"},
	}}
	w := NewWatcher(hook)
	w.Start(context.Background())
	defer w.Stop()

	for i, want := range hook.windows {
		select {
		case got := <-w.Events():
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("event %d = %+v, want %+v", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestWatcherRespawnsFailedHook(t *testing.T) {
	defer goleak.VerifyNone(t)

	hook := &scriptedHook{
		windows: []activity.FocusedWindow{{ProcessID: 9, ProcessName: "term", WindowTitle: "zsh"}},
		failure: errors.New("native hook lost"),
	}
	w := NewWatcher(hook)
	w.Start(context.Background())
	defer w.Stop()

	// First run emits and fails; after the respawn delay the second run emits
	// again. Receiving two events proves the respawn happened.
	for i := 0; i < 2; i++ {
		select {
		case <-w.Events():
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for emission %d (hook not respawned?)", i)
		}
	}
	if got := atomic.LoadInt32(&hook.runs); got < 2 {
		t.Fatalf("hook runs = %d, want >= 2", got)
	}
}

func TestWatcherUnboundedQueueDoesNotBlockHook(t *testing.T) {
	defer goleak.VerifyNone(t)

	many := make([]activity.FocusedWindow, 500)
	for i := range many {
		many[i] = activity.FocusedWindow{ProcessID: int32(i), ProcessName: "burst"}
	}
	hook := &scriptedHook{windows: many}

	w := NewWatcher(hook)
	w.Start(context.Background())
	defer w.Stop()

	// The hook emitted 500 events with nobody reading; draining them all now
	// shows the enqueue path never blocked or dropped.
	for i := 0; i < len(many); i++ {
		select {
		case got := <-w.Events():
			if got.ProcessID != int32(i) {
				t.Fatalf("event %d has pid %d, want %d (order lost)", i, got.ProcessID, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out draining event %d", i)
		}
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := NewWatcher(&scriptedHook{})
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
