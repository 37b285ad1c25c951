// Package collector supervises the collection pipeline: it runs the focus
// watcher, resolves a strategy per focus session, drives pull strategies on
// an interval, and funnels every report into the timeline.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"activityd/internal/activity"
	"activityd/internal/config"
	"activityd/internal/focus"
	"activityd/internal/logging"
	"activityd/internal/storage"
	"activityd/internal/strategy"
	"activityd/internal/timeline"
)

// State is the collector lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
	StateRestarting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyRunning is returned by Start on a running service.
	ErrAlreadyRunning = errors.New("collector: already running")
	// ErrNotRunning is returned by Stop on a stopped service.
	ErrNotRunning = errors.New("collector: not running")
)

// CollectionError wraps a strategy or runtime failure inside the pipeline.
type CollectionError struct {
	Reason string
	Err    error
}

func (e *CollectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collection failed: %s: %v", e.Reason, e.Err)
	}
	return "collection failed: " + e.Reason
}

func (e *CollectionError) Unwrap() error { return e.Err }

// stopGrace bounds how long Stop waits for the supervisor to drain.
const stopGrace = 5 * time.Second

// Options carries the collector's dependencies.
type Options struct {
	Config   config.CollectorConfig
	Hook     focus.Hook
	Selector *strategy.Selector
	Timeline timeline.Storage
	Assets   *storage.AssetStorage
	// Janitor, when set, runs storage maintenance in manual mode.
	Janitor *storage.Janitor
}

// Service is the collection supervisor. In focus-tracking mode it reacts to
// each focus change by cancelling the previous per-activity task and starting
// a new one; in manual mode it only runs storage maintenance.
type Service struct {
	cfg      config.CollectorConfig
	hook     focus.Hook
	selector *strategy.Selector
	store    timeline.Storage
	assets   *storage.AssetStorage
	janitor  *storage.Janitor

	mu              sync.Mutex
	state           State
	cancel          context.CancelFunc
	done            chan struct{}
	watcher         *focus.Watcher
	restartAttempts int
}

// NewService creates a collector from its dependencies. Nothing starts until
// Start is called.
func NewService(opts Options) *Service {
	return &Service{
		cfg:      opts.Config,
		hook:     opts.Hook,
		selector: opts.Selector,
		store:    opts.Timeline,
		assets:   opts.Assets,
		janitor:  opts.Janitor,
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the service is in the Running state.
func (s *Service) IsRunning() bool { return s.State() == StateRunning }

// RestartAttempts returns the consecutive restart count since the last
// successful start.
func (s *Service) RestartAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartAttempts
}

// Start launches the supervisor. It returns ErrAlreadyRunning if the service
// is not stopped. The given context covers startup only; the service runs
// until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.state = StateRunning
	s.cancel = cancel
	s.done = done

	if s.cfg.FocusTrackingEnabled {
		s.watcher = focus.NewWatcher(s.hook)
		s.watcher.Start(runCtx)
		go s.supervise(runCtx, s.watcher, done)
	} else {
		if s.janitor != nil {
			if err := s.janitor.Start(runCtx); err != nil {
				logging.Get(logging.CategoryCollector).Errorw("storage janitor failed to start", "error", err)
			}
		}
		go s.maintain(runCtx, done)
	}
	s.mu.Unlock()

	logging.Get(logging.CategoryCollector).Infow("collector started",
		"focus_tracking", s.cfg.FocusTrackingEnabled)
	return nil
}

// Stop aborts the supervisor and waits up to the grace period for it to
// drain. A grace timeout is logged as a warning; the abort still applies.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	cancel, done, watcher := s.cancel, s.done, s.watcher
	s.cancel, s.done, s.watcher = nil, nil, nil
	s.mu.Unlock()

	cancel()
	if watcher != nil {
		watcher.Stop()
	}
	if s.janitor != nil {
		s.janitor.Stop()
	}

	select {
	case <-done:
	case <-time.After(stopGrace):
		logging.Get(logging.CategoryCollector).Warnw("supervisor did not drain within grace period",
			"grace", stopGrace)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	logging.Get(logging.CategoryCollector).Infow("collector stopped")
	return nil
}

// Restart stops and starts the service with exponential backoff,
// base_delay*2^(attempt-1). Exceeding MaxRestartAttempts is a terminal
// CollectionError; a successful restart resets the attempt counter.
func (s *Service) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.restartAttempts++
	attempt := s.restartAttempts
	limit := s.cfg.MaxRestartAttempts
	s.mu.Unlock()

	if limit > 0 && attempt > limit {
		return &CollectionError{Reason: fmt.Sprintf("restart attempts exceeded limit %d", limit)}
	}

	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	s.mu.Lock()
	s.state = StateRestarting
	s.mu.Unlock()
	backToStopped := func() {
		s.mu.Lock()
		if s.state == StateRestarting {
			s.state = StateStopped
		}
		s.mu.Unlock()
	}

	delay := backoffDelay(s.cfg.GetRestartDelay(), attempt)
	if delay > 0 {
		logging.Get(logging.CategoryCollector).Infow("restarting collector",
			"attempt", attempt, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			backToStopped()
			return ctx.Err()
		}
	}
	backToStopped()

	if err := s.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.restartAttempts = 0
	s.mu.Unlock()
	return nil
}

// backoffDelay returns base*2^(attempt-1). The exponent is capped at 32 so
// high attempt counts, possible when MaxRestartAttempts is 0, do not
// overflow the shift into a zero or negative delay.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 32 {
		shift = 32
	}
	return base * time.Duration(1<<shift)
}

// maintain is the manual-mode loop: no strategies are driven, only the
// storage janitor keeps working.
func (s *Service) maintain(ctx context.Context, done chan struct{}) {
	defer close(done)
	<-ctx.Done()
}

// supervise reacts to focus changes: each one cancels the previous
// per-activity task and spawns a new one, unless the current strategy elects
// to keep handling the new window. Reports from all tasks funnel through one
// channel into the timeline.
func (s *Service) supervise(ctx context.Context, watcher *focus.Watcher, done chan struct{}) {
	defer close(done)
	log := logging.Get(logging.CategoryCollector)

	reports := make(chan activity.Report, 64)
	var (
		cur       strategy.Strategy
		curCancel context.CancelFunc
		curDone   chan struct{}
		currentID string
	)
	stopCurrent := func() {
		if curCancel == nil {
			return
		}
		curCancel()
		<-curDone
		cur.StopTracking()
		cur, curCancel, curDone = nil, nil, nil
	}
	defer stopCurrent()

	for {
		select {
		case <-ctx.Done():
			return

		case win, ok := <-watcher.Events():
			if !ok {
				return
			}
			if cur != nil && cur.HandleProcessChange(win) {
				log.Debugw("strategy continues across focus change",
					"strategy", cur.Name(), "process", win.ProcessName)
				continue
			}
			stopCurrent()

			st := s.selector.Select(win)
			taskCtx, cancel := context.WithCancel(ctx)
			taskDone := make(chan struct{})
			cur, curCancel, curDone = st, cancel, taskDone
			go s.runTask(taskCtx, st, win, reports, taskDone)

		case rep := <-reports:
			currentID = s.applyReport(ctx, rep, currentID)
		}
	}
}

// runTask drives one strategy for one focus session: start tracking, one
// seeding asset pull, then snapshot polls at the configured interval until
// the session is cancelled.
func (s *Service) runTask(ctx context.Context, st strategy.Strategy, win activity.FocusedWindow, reports chan<- activity.Report, done chan struct{}) {
	defer close(done)
	log := logging.Get(logging.CategoryCollector)

	if err := st.StartTracking(ctx, win, reports); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.collectionFailure(&CollectionError{Reason: "start tracking " + st.Name(), Err: err})
		return
	}

	if assets, err := st.RetrieveAssets(ctx); err != nil {
		log.Debugw("seeding asset pull failed", "strategy", st.Name(), "error", err)
	} else if len(assets) > 0 {
		select {
		case reports <- activity.Report{Kind: activity.ReportAssets, Assets: assets}:
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(s.cfg.GetCollectionInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snaps, err := st.RetrieveSnapshots(ctx)
			if err != nil {
				// A single failed poll never aborts the loop.
				log.Debugw("snapshot poll failed", "strategy", st.Name(), "error", err)
				continue
			}
			if len(snaps) == 0 {
				continue
			}
			select {
			case reports <- activity.Report{Kind: activity.ReportSnapshots, Snapshots: snaps}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// applyReport lands one report on the timeline and returns the id of the
// activity subsequent appends attach to.
func (s *Service) applyReport(ctx context.Context, rep activity.Report, currentID string) string {
	log := logging.Get(logging.CategoryCollector)
	switch rep.Kind {
	case activity.ReportNewActivity:
		if rep.Activity == nil {
			return currentID
		}
		if err := s.store.StartActivity(ctx, rep.Activity); err != nil {
			log.Errorw("failed to record activity", "activity", rep.Activity.Name, "error", err)
			return currentID
		}
		log.Infow("new activity", "id", rep.Activity.ID, "name", rep.Activity.Name)
		return rep.Activity.ID

	case activity.ReportAssets:
		if currentID == "" {
			log.Warnw("dropping assets with no current activity", "count", len(rep.Assets))
			return currentID
		}
		assets := s.persistAssets(currentID, rep.Assets)
		if err := s.store.AppendAssets(ctx, currentID, assets); err != nil {
			log.Errorw("failed to append assets", "activity", currentID, "error", err)
		}

	case activity.ReportSnapshots:
		if currentID == "" {
			log.Warnw("dropping snapshots with no current activity", "count", len(rep.Snapshots))
			return currentID
		}
		if err := s.store.AppendSnapshots(ctx, currentID, rep.Snapshots); err != nil {
			log.Errorw("failed to append snapshots", "activity", currentID, "error", err)
		}
	}
	return currentID
}

// persistAssets writes asset content through AssetStorage and stamps each
// asset with its stored path. Persistence failures keep the asset inline.
func (s *Service) persistAssets(activityID string, assets []activity.ActivityAsset) []activity.ActivityAsset {
	if s.assets == nil {
		return assets
	}
	log := logging.Get(logging.CategoryCollector)
	out := make([]activity.ActivityAsset, len(assets))
	for i, asset := range assets {
		out[i] = asset
		if len(asset.Content) == 0 || asset.SavedPath != "" {
			continue
		}
		name := asset.Title
		if name == "" {
			name = asset.URL
		}
		info, err := s.assets.Save(asset.Content, activityID, name, "application/json", string(asset.Kind))
		if err != nil {
			log.Warnw("failed to persist asset content", "activity", activityID, "error", err)
			continue
		}
		out[i].SavedPath = info.FilePath
	}
	return out
}

// collectionFailure logs a pipeline failure and, when configured, schedules
// an auto restart with backoff.
func (s *Service) collectionFailure(err *CollectionError) {
	log := logging.Get(logging.CategoryCollector)
	log.Errorw("collection failure", "error", err)
	if !s.cfg.AutoRestartOnError {
		return
	}
	go func() {
		if rerr := s.Restart(context.Background()); rerr != nil {
			log.Errorw("auto restart failed", "error", rerr)
		}
	}()
}
