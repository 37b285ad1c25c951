package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"activityd/internal/logging"
)

// Janitor performs storage maintenance: it keeps a running size index of the
// asset tree (refreshed from fsnotify events so external deletions are
// noticed) and prunes files older than the retention window. The collector
// runs it in manual mode.
type Janitor struct {
	mu        sync.RWMutex
	watcher   *fsnotify.Watcher
	store     *AssetStorage
	retention time.Duration
	interval  time.Duration
	sizes     map[string]int64
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool

	stats JanitorStats
}

// JanitorStats tracks janitor activity for diagnostics and tests.
type JanitorStats struct {
	FilesIndexed int
	FilesPruned  int
	PrunedBytes  int64
	Errors       int
	LastPruneAt  time.Time
}

// NewJanitor creates a janitor over the given storage. The fsnotify watch is
// established on Start, so a janitor can be stopped and started again across
// collector restarts.
func NewJanitor(store *AssetStorage, retention, interval time.Duration) (*Janitor, error) {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		sizes:     make(map[string]int64),
	}, nil
}

// Start begins watching the storage tree and scheduling prune passes.
// Non-blocking; work happens in a goroutine until Stop or ctx cancellation.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		j.mu.Unlock()
		return err
	}
	j.watcher = watcher
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.running = true
	j.mu.Unlock()

	log := logging.Get(logging.CategoryStorage)
	if err := j.reindex(); err != nil {
		log.Warnw("initial index failed", "error", err)
	}
	if err := j.watcher.Add(j.store.BaseDir()); err != nil {
		log.Warnw("watch failed, size index will be refresh-only", "error", err)
	}
	// Type subdirectories get their own watches.
	entries, err := os.ReadDir(j.store.BaseDir())
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = j.watcher.Add(filepath.Join(j.store.BaseDir(), e.Name()))
			}
		}
	}

	go j.run(ctx)
	return nil
}

// Stop stops the janitor and waits for the run loop to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	close(j.stopCh)
	<-j.doneCh
	_ = j.watcher.Close()
}

// TotalSize returns the indexed byte size of the asset tree.
func (j *Janitor) TotalSize() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var total int64
	for _, n := range j.sizes {
		total += n
	}
	return total
}

// Stats returns a copy of the activity counters.
func (j *Janitor) Stats() JanitorStats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.doneCh)
	log := logging.Get(logging.CategoryStorage)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case ev, ok := <-j.watcher.Events:
			if !ok {
				return
			}
			j.handleEvent(ev)
		case err, ok := <-j.watcher.Errors:
			if !ok {
				return
			}
			j.mu.Lock()
			j.stats.Errors++
			j.mu.Unlock()
			log.Debugw("watch error", "error", err)
		case <-ticker.C:
			if n, err := j.Prune(time.Now()); err != nil {
				log.Warnw("prune pass failed", "error", err)
			} else if n > 0 {
				log.Infow("pruned expired assets", "count", n)
			}
		}
	}
}

func (j *Janitor) handleEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return // in-flight temp files are not part of the index
	}
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if fi, err := os.Stat(ev.Name); err == nil {
			if fi.IsDir() {
				_ = j.watcher.Add(ev.Name)
				return
			}
			j.mu.Lock()
			if _, seen := j.sizes[ev.Name]; !seen {
				j.stats.FilesIndexed++
			}
			j.sizes[ev.Name] = fi.Size()
			j.mu.Unlock()
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		j.mu.Lock()
		delete(j.sizes, ev.Name)
		j.mu.Unlock()
	}
}

// reindex walks the tree and rebuilds the size map.
func (j *Janitor) reindex() error {
	sizes := make(map[string]int64)
	err := filepath.WalkDir(j.store.BaseDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			sizes[path] = fi.Size()
		}
		return nil
	})
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.sizes = sizes
	j.stats.FilesIndexed = len(sizes)
	j.mu.Unlock()
	return nil
}

// Prune removes indexed files whose mtime is older than the retention window.
func (j *Janitor) Prune(now time.Time) (int, error) {
	cutoff := now.Add(-j.retention)

	j.mu.RLock()
	paths := make([]string, 0, len(j.sizes))
	for p := range j.sizes {
		paths = append(paths, p)
	}
	j.mu.RUnlock()

	pruned := 0
	var prunedBytes int64
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			continue // already gone; fsnotify will fix the index
		}
		if fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(p); err != nil {
			j.mu.Lock()
			j.stats.Errors++
			j.mu.Unlock()
			continue
		}
		pruned++
		prunedBytes += fi.Size()
		j.mu.Lock()
		delete(j.sizes, p)
		j.mu.Unlock()
	}

	j.mu.Lock()
	j.stats.FilesPruned += pruned
	j.stats.PrunedBytes += prunedBytes
	j.stats.LastPruneAt = now
	j.mu.Unlock()
	return pruned, nil
}
