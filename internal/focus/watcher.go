// Package focus wraps the blocking OS focus APIs behind a watcher that
// republishes focus changes onto an unbounded queue. The native hook runs on
// its own locked OS thread; if it returns or fails it is respawned after a
// fixed delay, so a focus-tracker crash never terminates the pipeline.
package focus

import (
	"context"
	"runtime"
	"sync"
	"time"

	"activityd/internal/activity"
	"activityd/internal/logging"
)

// respawnDelay is the fixed pause before a crashed hook is restarted.
const respawnDelay = time.Second

// Hook abstracts the blocking native focus-tracking call. Run blocks on OS
// APIs, invoking emit once per accepted focus change, until ctx is cancelled
// or the native side fails.
type Hook interface {
	Run(ctx context.Context, emit func(activity.FocusedWindow)) error
}

// Watcher owns the hook thread and the queue between it and the supervisor.
type Watcher struct {
	hook Hook

	mu       sync.Mutex
	queue    []activity.FocusedWindow
	wake     chan struct{}
	out      chan activity.FocusedWindow
	stopCh   chan struct{}
	doneCh   chan struct{}
	hookDone chan struct{}
	running  bool
}

// NewWatcher creates a watcher over the given hook.
func NewWatcher(hook Hook) *Watcher {
	return &Watcher{
		hook:     hook,
		wake:     make(chan struct{}, 1),
		out:      make(chan activity.FocusedWindow),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		hookDone: make(chan struct{}),
	}
}

// Events returns the channel the supervisor reads focus changes from.
// Delivery is at-most-once per accepted OS event; enqueueing never blocks the
// hook thread (focus changes are low-frequency, the queue is unbounded).
func (w *Watcher) Events() <-chan activity.FocusedWindow {
	return w.out
}

// Start spawns the hook thread and the queue pump. Non-blocking.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	hookCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.stopCh:
		case <-ctx.Done():
		}
		cancel()
	}()
	go w.hookLoop(hookCtx)
	go w.pump(ctx)
}

// Stop terminates both goroutines and waits for the pump to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	<-w.hookDone
}

// hookLoop runs the blocking hook on a dedicated OS thread, respawning it
// after a fixed delay whenever it returns. Blocking native focus APIs are
// unsuitable for the cooperative scheduler, hence the locked thread.
func (w *Watcher) hookLoop(ctx context.Context) {
	defer close(w.hookDone)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := logging.Get(logging.CategoryFocus)
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.hook.Run(ctx, w.enqueue)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warnw("focus hook failed, respawning", "error", err, "delay", respawnDelay)
		} else {
			log.Warnw("focus hook returned, respawning", "delay", respawnDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(respawnDelay):
		}
	}
}

func (w *Watcher) enqueue(win activity.FocusedWindow) {
	w.mu.Lock()
	w.queue = append(w.queue, win)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into the out channel.
func (w *Watcher) pump(ctx context.Context) {
	defer close(w.doneCh)
	for {
		w.mu.Lock()
		var next activity.FocusedWindow
		have := len(w.queue) > 0
		if have {
			next = w.queue[0]
			w.queue = w.queue[1:]
		}
		w.mu.Unlock()

		if !have {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-w.wake:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case w.out <- next:
		}
	}
}
