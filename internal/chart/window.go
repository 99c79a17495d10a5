package chart

import (
	"strings"
	"sync"

	"codeberg.org/mutker/powerdash/internal/errors"
)

// Window selects one of the dataset's retention windows.
type Window string

const (
	WindowToday Window = "today"
	WindowWeek  Window = "7d"
	WindowMonth Window = "30d"
)

// DefaultWindow is shown on startup.
const DefaultWindow = WindowToday

// Windows lists the selectable windows in display order.
var Windows = []Window{WindowToday, WindowWeek, WindowMonth}

// ParseWindow accepts the window keys plus "1d" as an alias for today.
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today", "1d":
		return WindowToday, nil
	case "7d", "week":
		return WindowWeek, nil
	case "30d", "month":
		return WindowMonth, nil
	}
	return "", errors.New().WithData(ErrUnknownWindow, s)
}

// Label is the human-readable name used by selectors.
func (w Window) Label() string {
	switch w {
	case WindowToday:
		return "Today"
	case WindowMonth:
		return "Last 30 days"
	default:
		return "Last 7 days"
	}
}

func (w Window) hourly() bool {
	return w == WindowToday
}

// Selector holds the currently selected window. Select is its only writer,
// and selecting never triggers a fetch.
type Selector struct {
	mu       sync.RWMutex
	window   Window
	onChange func(Window)
}

func NewSelector(initial Window, onChange func(Window)) *Selector {
	if initial == "" {
		initial = DefaultWindow
	}
	return &Selector{window: initial, onChange: onChange}
}

func (s *Selector) Window() Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// Select switches the window. Selecting the current window is a no-op.
func (s *Selector) Select(w Window) {
	s.mu.Lock()
	if s.window == w {
		s.mu.Unlock()
		return
	}
	s.window = w
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(w)
	}
}
