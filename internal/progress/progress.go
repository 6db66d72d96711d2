// Package progress renders a single-line probe progress display.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

// Display manages the progress line during a crawl.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	// Stats
	total   atomic.Int64
	done    atomic.Int64
	online  atomic.Int64
	offline atomic.Int64
	errors  atomic.Int64

	// Timing
	startTime time.Time

	// Display
	lastLine string
}

// New creates a display writing to w, or to stderr when w is nil.
func New(w io.Writer) *Display {
	if w == nil {
		w = os.Stderr
	}
	return &Display{out: w}
}

// Start begins the display for total servers.
func (d *Display) Start(total int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.total.Store(int64(total))
	d.render()
}

// Record counts one finished server and redraws the line.
func (d *Display) Record(status probe.Status) {
	d.done.Add(1)
	switch status {
	case probe.StatusOnline:
		d.online.Add(1)
	case probe.StatusOffline:
		d.offline.Add(1)
	default:
		d.errors.Add(1)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}
	d.render()
}

// render draws the line. The caller holds mu.
func (d *Display) render() {
	total := d.total.Load()
	done := d.done.Load()

	percent := 100
	if total > 0 {
		percent = int(float64(done) / float64(total) * 100)
	}

	barWidth := 30
	filled := percent * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | %d/%d | online: %d | offline: %d | error: %d | %s",
		bar, percent, done, total, d.online.Load(), d.offline.Load(), d.errors.Load(),
		formatDuration(time.Since(d.startTime)))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop ends the display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// Stats returns the current counts.
func (d *Display) Stats() (done, online, offline, errors int64) {
	return d.done.Load(), d.online.Load(), d.offline.Load(), d.errors.Load()
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
