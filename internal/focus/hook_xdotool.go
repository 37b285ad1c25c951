package focus

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"activityd/internal/activity"
)

// XdotoolHook reports the focused window by polling xdotool. It is the
// portable Linux implementation; desktops without an event API still answer
// "what is the active window" cheaply, so a short poll approximates the OS
// focus hook closely enough for per-session tracking.
type XdotoolHook struct {
	// PollInterval defaults to 500ms.
	PollInterval time.Duration
}

// Run blocks, polling the active window and emitting a FocusedWindow whenever
// the focused process or window title changes.
func (h *XdotoolHook) Run(ctx context.Context, emit func(activity.FocusedWindow)) error {
	interval := h.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	if _, err := exec.LookPath("xdotool"); err != nil {
		return fmt.Errorf("focus: xdotool not available: %w", err)
	}

	var lastPID int32
	var lastTitle string

	for {
		win, err := h.activeWindow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if win.ProcessID != lastPID || win.WindowTitle != lastTitle {
			lastPID = win.ProcessID
			lastTitle = win.WindowTitle
			emit(win)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (h *XdotoolHook) activeWindow(ctx context.Context) (activity.FocusedWindow, error) {
	id, err := h.xdotool(ctx, "getactivewindow")
	if err != nil {
		return activity.FocusedWindow{}, fmt.Errorf("focus: getactivewindow: %w", err)
	}
	title, err := h.xdotool(ctx, "getwindowname", id)
	if err != nil {
		return activity.FocusedWindow{}, fmt.Errorf("focus: getwindowname: %w", err)
	}
	pidStr, err := h.xdotool(ctx, "getwindowpid", id)
	if err != nil {
		return activity.FocusedWindow{}, fmt.Errorf("focus: getwindowpid: %w", err)
	}
	pid, err := strconv.ParseInt(pidStr, 10, 32)
	if err != nil {
		return activity.FocusedWindow{}, fmt.Errorf("focus: bad pid %q: %w", pidStr, err)
	}

	return activity.FocusedWindow{
		ProcessID:   int32(pid),
		ProcessName: processName(int(pid)),
		WindowTitle: title,
	}, nil
}

func (h *XdotoolHook) xdotool(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "xdotool", args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// processName resolves a PID to its short command name.
func processName(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}
