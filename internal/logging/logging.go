// Package logging provides categorized structured logging for activityd.
// Each subsystem logs through a named zap logger; when a log directory is
// configured, every category additionally writes to its own file so that a
// noisy bridge cannot drown focus-tracking diagnostics.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Process bootstrap and wiring
	CategoryFocus     Category = "focus"     // OS focus hook and watcher thread
	CategoryCollector Category = "collector" // Collector lifecycle and supervision
	CategoryStrategy  Category = "strategy"  // Strategy selection and tracking
	CategoryBridge    Category = "bridge"    // Browser bridge gRPC hub
	CategoryNative    Category = "native"    // Native-messaging host dispatch
	CategoryStorage   Category = "storage"   // Asset storage and janitor
	CategoryTimeline  Category = "timeline"  // Timeline store
)

// Config controls logger construction.
type Config struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Directory string `yaml:"directory"`  // optional per-category file sink
	DebugMode bool   `yaml:"debug_mode"` // forces debug level
}

var (
	mu      sync.Mutex
	cfg     Config
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	loggers = map[Category]*zap.SugaredLogger{}
)

func consoleCore() zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
}

// Init reconfigures the package-level loggers. Safe to call more than once;
// later calls replace the sinks for loggers handed out afterwards.
func Init(c Config) error {
	mu.Lock()
	defer mu.Unlock()

	lvl := zapcore.InfoLevel
	if c.Level != "" {
		if err := lvl.Set(c.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
	}
	if c.DebugMode {
		lvl = zapcore.DebugLevel
	}
	level.SetLevel(lvl)

	if c.Directory != "" {
		if err := os.MkdirAll(c.Directory, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	cfg = c
	loggers = map[Category]*zap.SugaredLogger{}
	return nil
}

// Get returns the sugared logger for a category, creating it on first use.
func Get(cat Category) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	if lg, ok := loggers[cat]; ok {
		return lg
	}

	core := consoleCore()
	if cfg.Directory != "" {
		path := filepath.Join(cfg.Directory, string(cat)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			encCfg := zap.NewProductionEncoderConfig()
			encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level)
			core = zapcore.NewTee(core, fileCore)
		}
		// A file that cannot be opened degrades to console-only.
	}

	lg := zap.New(core).Named(string(cat)).Sugar()
	loggers[cat] = lg
	return lg
}

// SetLevel adjusts the shared level at runtime (used by --verbose).
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Sync flushes all category loggers. Called on shutdown.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	for _, lg := range loggers {
		_ = lg.Sync()
	}
}
