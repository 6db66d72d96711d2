// Package metrics collects probe counters for a crawl run.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

// Collector collects and aggregates probe metrics. It is safe for
// concurrent use.
type Collector struct {
	// Counters
	probesTotal  atomic.Int64
	onlineTotal  atomic.Int64
	offlineTotal atomic.Int64
	errorTotal   atomic.Int64
	toolsTotal   atomic.Int64
	fallbacks    atomic.Int64

	// Duration tracking
	durationSum atomic.Int64
	durationNum atomic.Int64
	durationMax atomic.Int64

	// Gauges
	inFlight     atomic.Int64
	peakInFlight atomic.Int64

	// Histograms (buckets for probe durations in ms)
	durationBuckets [8]atomic.Int64 // <100, <250, <500, <1000, <2500, <5000, <10000, >=10000

	// Error message breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// ProbeStarted marks one more probe in flight.
func (c *Collector) ProbeStarted() {
	n := c.inFlight.Add(1)
	for {
		peak := c.peakInFlight.Load()
		if n <= peak || c.peakInFlight.CompareAndSwap(peak, n) {
			return
		}
	}
}

// ProbeFinished records the outcome of a probe started with ProbeStarted.
func (c *Collector) ProbeFinished(o probe.Outcome) {
	c.inFlight.Add(-1)
	c.probesTotal.Add(1)

	switch o.Status {
	case probe.StatusOnline:
		c.onlineTotal.Add(1)
		c.toolsTotal.Add(int64(len(o.Tools)))
	case probe.StatusOffline:
		c.offlineTotal.Add(1)
	default:
		c.errorTotal.Add(1)
	}
	if o.Error != "" {
		c.recordError(o.Error)
	}
	c.RecordDuration(o.Duration)
}

// RecordFallback counts a logical endpoint that had more than one candidate.
func (c *Collector) RecordFallback() {
	c.fallbacks.Add(1)
}

func (c *Collector) recordError(message string) {
	c.errorMu.Lock()
	if c.errorCounts[message] == nil {
		c.errorCounts[message] = &atomic.Int64{}
	}
	c.errorCounts[message].Add(1)
	c.errorMu.Unlock()
}

// RecordDuration records a probe duration.
func (c *Collector) RecordDuration(d time.Duration) {
	ms := d.Milliseconds()
	c.durationSum.Add(ms)
	c.durationNum.Add(1)
	for {
		cur := c.durationMax.Load()
		if ms <= cur || c.durationMax.CompareAndSwap(cur, ms) {
			break
		}
	}
	c.durationBuckets[bucket(ms)].Add(1)
}

// bucket returns the histogram bucket for a duration in milliseconds.
func bucket(ms int64) int {
	switch {
	case ms < 100:
		return 0
	case ms < 250:
		return 1
	case ms < 500:
		return 2
	case ms < 1000:
		return 3
	case ms < 2500:
		return 4
	case ms < 5000:
		return 5
	case ms < 10000:
		return 6
	default:
		return 7
	}
}

// AverageDuration returns the mean probe duration.
func (c *Collector) AverageDuration() time.Duration {
	sum := c.durationSum.Load()
	num := c.durationNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:       time.Now(),
		Uptime:          time.Since(c.startTime),
		ProbesTotal:     c.probesTotal.Load(),
		Online:          c.onlineTotal.Load(),
		Offline:         c.offlineTotal.Load(),
		Errors:          c.errorTotal.Load(),
		ToolsTotal:      c.toolsTotal.Load(),
		Fallbacks:       c.fallbacks.Load(),
		InFlight:        c.inFlight.Load(),
		PeakInFlight:    c.peakInFlight.Load(),
		AverageDuration: c.AverageDuration(),
		MaxDuration:     time.Duration(c.durationMax.Load()) * time.Millisecond,
		ErrorCounts:     make(map[string]int64),
		DurationHist:    make([]int64, len(c.durationBuckets)),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	for i := range c.durationBuckets {
		s.DurationHist[i] = c.durationBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp       time.Time        `json:"timestamp" yaml:"timestamp"`
	Uptime          time.Duration    `json:"uptime" yaml:"uptime"`
	ProbesTotal     int64            `json:"probes_total" yaml:"probes_total"`
	Online          int64            `json:"online" yaml:"online"`
	Offline         int64            `json:"offline" yaml:"offline"`
	Errors          int64            `json:"errors" yaml:"errors"`
	ToolsTotal      int64            `json:"tools_total" yaml:"tools_total"`
	Fallbacks       int64            `json:"fallbacks" yaml:"fallbacks"`
	InFlight        int64            `json:"in_flight" yaml:"in_flight"`
	PeakInFlight    int64            `json:"peak_in_flight" yaml:"peak_in_flight"`
	AverageDuration time.Duration    `json:"average_duration" yaml:"average_duration"`
	MaxDuration     time.Duration    `json:"max_duration" yaml:"max_duration"`
	ErrorCounts     map[string]int64 `json:"error_counts,omitempty" yaml:"error_counts,omitempty"`
	DurationHist    []int64          `json:"duration_histogram" yaml:"duration_histogram"`
}

// FailureRate returns the share of probes that were not online.
func (s *Snapshot) FailureRate() float64 {
	if s.ProbesTotal == 0 {
		return 0
	}
	return float64(s.Offline+s.Errors) / float64(s.ProbesTotal)
}

// Summary returns a flat view for the statistics log line.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":          s.Uptime.Round(time.Millisecond).String(),
		"probes":          s.ProbesTotal,
		"online":          s.Online,
		"offline":         s.Offline,
		"errors":          s.Errors,
		"tools":           s.ToolsTotal,
		"fallbacks":       s.Fallbacks,
		"failure_rate":    s.FailureRate(),
		"peak_in_flight":  s.PeakInFlight,
		"avg_duration_ms": s.AverageDuration.Milliseconds(),
		"max_duration_ms": s.MaxDuration.Milliseconds(),
	}
}
