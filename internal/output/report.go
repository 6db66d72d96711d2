package output

import (
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

// Summarize builds the per-server lines and counts for a report.
func Summarize(outcomes []probe.Outcome) ([]ServerResult, Statistics) {
	results := make([]ServerResult, 0, len(outcomes))
	stats := Statistics{Servers: len(outcomes)}

	for _, o := range outcomes {
		results = append(results, ServerResult{
			ID:       o.ID,
			Status:   string(o.Status),
			Tools:    len(o.Tools),
			Error:    o.Error,
			Duration: o.Duration,
		})

		switch o.Status {
		case probe.StatusOnline:
			stats.Online++
			stats.Tools += len(o.Tools)
		case probe.StatusOffline:
			stats.Offline++
		default:
			stats.Errors++
		}
	}

	return results, stats
}
