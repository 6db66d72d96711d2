package crawler

import (
	"github.com/PentesterFlow/mcp-catalog/internal/catalog"
	"github.com/PentesterFlow/mcp-catalog/internal/normalizer"
	"github.com/PentesterFlow/mcp-catalog/internal/output"
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

// Target is one logical server with its candidates in priority order.
type Target struct {
	ID         string
	Candidates []probe.Endpoint
}

// URL returns the address reported for failures that cannot be pinned to
// one candidate.
func (t Target) URL() string {
	if len(t.Candidates) == 1 {
		return t.Candidates[0].URL
	}
	return probe.MultipleSources
}

// Targets lists the normalized identities in first-seen order.
func Targets(res *normalizer.Result) []Target {
	targets := make([]Target, 0, res.Len())
	for _, id := range res.Order {
		targets = append(targets, Target{ID: id, Candidates: res.Candidate(id)})
	}
	return targets
}

// RunResult is the outcome of a full pipeline run.
type RunResult struct {
	Outcomes []probe.Outcome
	Catalog  *catalog.Catalog
	Merge    catalog.Report

	// Written is false for dry runs and when the file already held the
	// rendered bytes.
	Written bool

	// Stale lists identities that crossed the failure threshold.
	Stale []string

	Report *output.RunReport
}

// Empty reports whether no server was found in the configuration.
func (r *RunResult) Empty() bool {
	return len(r.Outcomes) == 0
}
