package output

import (
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/catalog"
	"github.com/PentesterFlow/mcp-catalog/internal/metrics"
)

// RunReport summarizes one crawl run.
type RunReport struct {
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time     `json:"completed_at" yaml:"completed_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Output      string        `json:"output,omitempty" yaml:"output,omitempty"`
	DryRun      bool          `json:"dry_run" yaml:"dry_run"`
	Written     bool          `json:"written" yaml:"written"`

	Sources    SourceStats       `json:"sources" yaml:"sources"`
	Statistics Statistics        `json:"statistics" yaml:"statistics"`
	Merge      *catalog.Report   `json:"merge,omitempty" yaml:"merge,omitempty"`
	Stale      []string          `json:"stale,omitempty" yaml:"stale,omitempty"`
	Servers    []ServerResult    `json:"servers" yaml:"servers"`
	Metrics    *metrics.Snapshot `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// SourceStats describes the configuration documents that were read.
type SourceStats struct {
	Sources       int      `json:"sources" yaml:"sources"`
	Documents     int      `json:"documents" yaml:"documents"`
	Explicit      int      `json:"explicit" yaml:"explicit"`
	Bulk          int      `json:"bulk" yaml:"bulk"`
	Skipped       int      `json:"skipped" yaml:"skipped"`
	NotApplicable int      `json:"not_applicable" yaml:"not_applicable"`
	Conflicts     int      `json:"conflicts" yaml:"conflicts"`
	Unresolved    []string `json:"unresolved_placeholders,omitempty" yaml:"unresolved_placeholders,omitempty"`
}

// Statistics contains probe counts.
type Statistics struct {
	Servers int `json:"servers" yaml:"servers"`
	Online  int `json:"online" yaml:"online"`
	Offline int `json:"offline" yaml:"offline"`
	Errors  int `json:"errors" yaml:"errors"`
	Tools   int `json:"tools" yaml:"tools"`
}

// ServerResult is the per-server line of a report. URLs are left out
// since they may carry credentials.
type ServerResult struct {
	ID       string        `json:"id" yaml:"id"`
	Status   string        `json:"status" yaml:"status"`
	Tools    int           `json:"tools" yaml:"tools"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}
