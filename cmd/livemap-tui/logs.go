package main

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/rivo/tview"
)

// LogManager feeds the log panel. It is the console writer of the slog
// text handler, so every record the loop emits shows up in the UI.
type LogManager struct {
	// textView is the tview component for displaying logs
	textView *tview.TextView

	// lines holds complete log lines not yet drawn
	mu      sync.Mutex
	pending []string
	partial []byte

	// maxLines is the number of lines the panel keeps
	maxLines int
}

// NewLogManager creates a new log manager
func NewLogManager(maxLines int) *LogManager {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxLines)

	textView.SetBorder(true).SetTitle(" Logs ")

	return &LogManager{
		textView: textView,
		maxLines: maxLines,
	}
}

// GetView returns the tview component
func (lm *LogManager) GetView() tview.Primitive {
	return lm.textView
}

// Write buffers slog text output. It never touches the text view, so it
// is safe to call from any goroutine.
func (lm *LogManager) Write(p []byte) (int, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.partial = append(lm.partial, p...)
	for {
		i := bytes.IndexByte(lm.partial, '\n')
		if i < 0 {
			break
		}
		lm.pending = append(lm.pending, string(lm.partial[:i]))
		lm.partial = lm.partial[i+1:]
	}

	if len(lm.pending) > lm.maxLines {
		lm.pending = lm.pending[len(lm.pending)-lm.maxLines:]
	}
	return len(p), nil
}

// Flush draws buffered lines into the panel. It must run on the UI
// goroutine. It reports whether anything was drawn.
func (lm *LogManager) Flush() bool {
	lm.mu.Lock()
	lines := lm.pending
	lm.pending = nil
	lm.mu.Unlock()

	if len(lines) == 0 {
		return false
	}
	for _, line := range lines {
		fmt.Fprintf(lm.textView, "[%s]%s[-]\n", colorForLine(line), tview.Escape(line))
	}
	lm.textView.ScrollToEnd()
	return true
}

// colorForLine returns the tview color tag for a slog text line
func colorForLine(line string) string {
	switch {
	case strings.Contains(line, "level=ERROR"):
		return "red"
	case strings.Contains(line, "level=WARN"):
		return "yellow"
	case strings.Contains(line, "level=DEBUG"):
		return "gray"
	default:
		return "white"
	}
}
