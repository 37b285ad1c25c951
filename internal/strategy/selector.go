package strategy

import (
	"activityd/internal/activity"
	"activityd/internal/logging"
)

// Factory builds a fresh Strategy instance for one tracking session.
type Factory func() Strategy

// Selector maps a focused window's process name to a Strategy via a static
// table, falling back to the generic pull strategy for unknown processes.
type Selector struct {
	table    map[string]Factory
	fallback Factory
}

// NewSelector builds the process-name routing table. Browser processes are
// routed to the devtools strategy when a remote debugging URL is configured,
// otherwise to the bridge push strategy when an event source is available.
func NewSelector(events EventSource, devtoolsURL string) *Selector {
	s := &Selector{
		table:    make(map[string]Factory),
		fallback: func() Strategy { return NewGenericStrategy() },
	}

	var browsers Factory
	switch {
	case devtoolsURL != "":
		browsers = func() Strategy { return NewDevtoolsStrategy(devtoolsURL) }
	case events != nil:
		browsers = func() Strategy { return NewBrowserBridgeStrategy(events) }
	}
	if browsers != nil {
		for name := range browserProcesses {
			s.table[name] = browsers
		}
	}
	return s
}

// Select returns a fresh Strategy for the window.
func (s *Selector) Select(win activity.FocusedWindow) Strategy {
	if f, ok := s.table[win.ProcessName]; ok {
		st := f()
		logging.Get(logging.CategoryStrategy).Debugw("strategy selected",
			"strategy", st.Name(), "process", win.ProcessName)
		return st
	}
	return s.fallback()
}
