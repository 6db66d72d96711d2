package catalog

import (
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
	"github.com/PentesterFlow/mcp-catalog/internal/tree"
)

// Report lists what a merge did per identity.
type Report struct {
	Changed bool `json:"changed" yaml:"changed"`

	Inserted  []string `json:"inserted,omitempty" yaml:"inserted,omitempty"`
	Updated   []string `json:"updated,omitempty" yaml:"updated,omitempty"`
	Retained  []string `json:"retained,omitempty" yaml:"retained,omitempty"`   // not online, previous entry kept
	Unchanged []string `json:"unchanged,omitempty" yaml:"unchanged,omitempty"` // online with identical content
	Removed   []string `json:"removed,omitempty" yaml:"removed,omitempty"`
}

// Generate builds a fresh catalog from outcomes, sorted by identity.
func Generate(outcomes []probe.Outcome, opts Options) *Catalog {
	entries := make([]*Entry, 0, len(outcomes))
	index := make(map[string]int, len(outcomes))
	for _, o := range outcomes {
		e := NewEntry(o, opts)
		if i, dup := index[o.ID]; dup {
			entries[i] = e
			continue
		}
		index[o.ID] = len(entries)
		entries = append(entries, e)
	}
	sortEntries(entries)

	return &Catalog{
		Metadata: computeMetadata(entries, opts.now()),
		Servers:  entries,
	}
}

// Merge reconciles fresh outcomes with the previous catalog.
//
// A server that is not online keeps its previous entry. An online server
// replaces its entry only when its URL (or URL digest) or tools changed. Servers missing
// from outcomes are removed. When nothing changed previous itself is
// returned, so it is written back byte for byte.
func Merge(outcomes []probe.Outcome, previous *Catalog, opts Options) (*Catalog, Report) {
	var report Report

	if previous == nil {
		c := Generate(outcomes, opts)
		for _, e := range c.Servers {
			report.Inserted = append(report.Inserted, e.ID)
		}
		report.Changed = true
		return c, report
	}

	fresh := make(map[string]probe.Outcome, len(outcomes))
	var order []string
	for _, o := range outcomes {
		if _, dup := fresh[o.ID]; !dup {
			order = append(order, o.ID)
		}
		fresh[o.ID] = o
	}

	known := make(map[string]*Entry, len(previous.Servers))
	for _, e := range previous.Servers {
		known[e.ID] = e
	}

	entries := make([]*Entry, 0, len(order))
	for _, id := range order {
		o := fresh[id]
		prev, ok := known[id]

		switch {
		case !ok:
			entries = append(entries, NewEntry(o, opts))
			report.Inserted = append(report.Inserted, id)
		case !o.Online():
			entries = append(entries, prev)
			report.Retained = append(report.Retained, id)
		default:
			next := NewEntry(o, opts)
			if tree.Equal(next.content(), prev.content()) {
				entries = append(entries, prev)
				report.Unchanged = append(report.Unchanged, id)
			} else {
				entries = append(entries, next)
				report.Updated = append(report.Updated, id)
			}
		}
	}

	for _, e := range previous.Servers {
		if _, ok := fresh[e.ID]; !ok {
			report.Removed = append(report.Removed, e.ID)
		}
	}

	report.Changed = len(report.Inserted)+len(report.Updated)+len(report.Removed) > 0
	if !report.Changed {
		return previous, report
	}

	sortEntries(entries)
	return &Catalog{
		Metadata: computeMetadata(entries, opts.now()),
		Servers:  entries,
		extra:    previous.extra,
	}, report
}
