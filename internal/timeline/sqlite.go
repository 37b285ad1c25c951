package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"activityd/internal/activity"
	"activityd/internal/logging"
)

// SQLiteStore implements Storage over a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewSQLiteStore initializes the database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log := logging.Get(logging.CategoryTimeline)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debugw("failed to set busy_timeout", "error", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debugw("failed to set journal_mode=WAL", "error", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		log.Debugw("failed to enable foreign_keys", "error", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Infow("timeline store ready", "path", path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		process_name TEXT NOT NULL,
		icon         BLOB,
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS activity_assets (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		activity_id TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
		kind        TEXT NOT NULL,
		url         TEXT,
		title       TEXT,
		content     TEXT,
		saved_path  TEXT,
		captured_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS activity_snapshots (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		activity_id TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
		kind        TEXT NOT NULL,
		content     TEXT,
		taken_at    DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activities_updated ON activities(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_assets_activity ON activity_assets(activity_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_activity ON activity_snapshots(activity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// StartActivity records a new activity.
func (s *SQLiteStore) StartActivity(ctx context.Context, act *activity.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, name, process_name, icon, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		act.ID, act.Name, act.ProcessName, act.Icon, act.CreatedAt, act.UpdatedAt)
	if err != nil {
		return fmt.Errorf("timeline: insert activity: %w", err)
	}
	return nil
}

// AppendAssets attaches assets to an activity and bumps updated_at.
func (s *SQLiteStore) AppendAssets(ctx context.Context, activityID string, assets []activity.ActivityAsset) error {
	if len(assets) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("timeline: begin: %w", err)
	}
	defer tx.Rollback()

	for _, a := range assets {
		capturedAt := a.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activity_assets (activity_id, kind, url, title, content, saved_path, captured_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			activityID, string(a.Kind), a.URL, a.Title, string(a.Content), a.SavedPath, capturedAt); err != nil {
			return fmt.Errorf("timeline: insert asset: %w", err)
		}
	}
	if err := s.touchLocked(ctx, tx, activityID); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendSnapshots attaches snapshots to an activity and bumps updated_at.
func (s *SQLiteStore) AppendSnapshots(ctx context.Context, activityID string, snaps []activity.ActivitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("timeline: begin: %w", err)
	}
	defer tx.Rollback()

	for _, sn := range snaps {
		takenAt := sn.TakenAt
		if takenAt.IsZero() {
			takenAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activity_snapshots (activity_id, kind, content, taken_at)
			 VALUES (?, ?, ?, ?)`,
			activityID, string(sn.Kind), string(sn.Content), takenAt); err != nil {
			return fmt.Errorf("timeline: insert snapshot: %w", err)
		}
	}
	if err := s.touchLocked(ctx, tx, activityID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) touchLocked(ctx context.Context, tx *sql.Tx, activityID string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE activities SET updated_at = ? WHERE id = ?`, time.Now().UTC(), activityID)
	if err != nil {
		return fmt.Errorf("timeline: touch activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("timeline: unknown activity %s", activityID)
	}
	return nil
}

// Recent returns the most recently updated activities, newest first, with
// their assets and snapshots populated.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]activity.Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, process_name, icon, created_at, updated_at
		 FROM activities ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("timeline: query activities: %w", err)
	}
	defer rows.Close()

	var acts []activity.Activity
	for rows.Next() {
		var act activity.Activity
		if err := rows.Scan(&act.ID, &act.Name, &act.ProcessName, &act.Icon, &act.CreatedAt, &act.UpdatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan activity: %w", err)
		}
		acts = append(acts, act)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range acts {
		if err := s.loadChildren(ctx, &acts[i]); err != nil {
			return nil, err
		}
	}
	return acts, nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, act *activity.Activity) error {
	arows, err := s.db.QueryContext(ctx,
		`SELECT kind, url, title, content, saved_path, captured_at
		 FROM activity_assets WHERE activity_id = ? ORDER BY id`, act.ID)
	if err != nil {
		return fmt.Errorf("timeline: query assets: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var a activity.ActivityAsset
		var kind, content string
		if err := arows.Scan(&kind, &a.URL, &a.Title, &content, &a.SavedPath, &a.CapturedAt); err != nil {
			return fmt.Errorf("timeline: scan asset: %w", err)
		}
		a.Kind = activity.AssetKind(kind)
		if content != "" {
			a.Content = json.RawMessage(content)
		}
		act.Assets = append(act.Assets, a)
	}
	if err := arows.Err(); err != nil {
		return err
	}

	srows, err := s.db.QueryContext(ctx,
		`SELECT kind, content, taken_at
		 FROM activity_snapshots WHERE activity_id = ? ORDER BY id`, act.ID)
	if err != nil {
		return fmt.Errorf("timeline: query snapshots: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var sn activity.ActivitySnapshot
		var kind, content string
		if err := srows.Scan(&kind, &content, &sn.TakenAt); err != nil {
			return fmt.Errorf("timeline: scan snapshot: %w", err)
		}
		sn.Kind = activity.SnapshotKind(kind)
		if content != "" {
			sn.Content = json.RawMessage(content)
		}
		act.Snapshots = append(act.Snapshots, sn)
	}
	return srows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
