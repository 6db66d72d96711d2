package state

import (
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

// Record is the probe history of one server identity.
type Record struct {
	ID                  string       `json:"id" yaml:"id"`
	LastStatus          probe.Status `json:"last_status" yaml:"last_status"`
	LastChecked         time.Time    `json:"last_checked" yaml:"last_checked"`
	LastOnline          time.Time    `json:"last_online,omitempty" yaml:"last_online,omitempty"`
	LastError           string       `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures" yaml:"consecutive_failures"`
	ProbeCount          int          `json:"probe_count" yaml:"probe_count"`
	ToolCount           int          `json:"tool_count" yaml:"tool_count"`
}

// Apply folds one probe outcome into the record.
func (r *Record) Apply(o probe.Outcome) {
	checked := o.CheckedAt
	if checked.IsZero() {
		checked = time.Now().UTC()
	}

	r.ID = o.ID
	r.LastStatus = o.Status
	r.LastChecked = checked
	r.ProbeCount++

	if o.Online() {
		r.LastOnline = checked
		r.LastError = ""
		r.ConsecutiveFailures = 0
		r.ToolCount = len(o.Tools)
		return
	}
	r.LastError = o.Error
	r.ConsecutiveFailures++
}

// Stale reports whether the server has failed at least threshold times in
// a row. A threshold below one disables staleness.
func (r *Record) Stale(threshold int) bool {
	return threshold > 0 && r.ConsecutiveFailures >= threshold
}

// Store persists records by identity.
type Store interface {
	// Get returns the record for id, or nil when none exists.
	Get(id string) (*Record, error)

	// Put writes all records in one transaction.
	Put(records ...*Record) error

	// List returns every record ordered by identity.
	List() ([]*Record, error)

	Close() error
}
