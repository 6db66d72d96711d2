// Package catalog holds the persisted tool catalog: its YAML encoding, the
// atomic file store, and reconciliation of fresh probe results.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/mcp-catalog/internal/probe"
	"github.com/PentesterFlow/mcp-catalog/internal/tree"
)

// TimeFormat renders timestamps with microseconds and a numeric offset.
const TimeFormat = "2006-01-02T15:04:05.000000-07:00"

// FormatTime renders t in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Tool is one persisted tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *tree.Node
}

// Entry is one server record.
type Entry struct {
	ID           string
	URL          string
	URLDigest    string // hex SHA-256 of the endpoint URL, kept when URL is not
	Status       probe.Status
	LastChecked  string
	Tools        []Tool
	ErrorMessage string

	// raw is the node an entry was decoded from. Retained entries are
	// written back from it so unknown fields survive.
	raw *yaml.Node
}

// Metadata summarizes the catalog.
type Metadata struct {
	GeneratedAt    string
	TotalServers   int
	OnlineServers  int
	OfflineServers int
	ErrorServers   int
}

// Catalog is the whole document.
type Catalog struct {
	Metadata Metadata
	Servers  []*Entry

	// extra holds unknown top-level key/value nodes in document order.
	extra []*yaml.Node

	// source holds the bytes a loaded catalog was decoded from.
	source  []byte
	dropped int
}

// Lookup returns the entry with the given identity.
func (c *Catalog) Lookup(id string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	for _, e := range c.Servers {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Source returns the bytes the catalog was decoded from, or nil for a
// catalog built in memory.
func (c *Catalog) Source() []byte {
	return c.source
}

// Options controls how outcomes become entries.
type Options struct {
	// IncludeURL persists endpoint URLs. Off by default since URLs may
	// embed credentials.
	IncludeURL bool

	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// NewEntry converts a probe outcome.
func NewEntry(o probe.Outcome, opts Options) *Entry {
	checked := o.CheckedAt
	if checked.IsZero() {
		checked = opts.now()
	}
	e := &Entry{
		ID:           o.ID,
		URLDigest:    DigestURL(o.URL),
		Status:       o.Status,
		LastChecked:  FormatTime(checked),
		ErrorMessage: o.Error,
	}
	if opts.IncludeURL {
		e.URL = o.URL
	}
	for _, t := range o.Tools {
		e.Tools = append(e.Tools, Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return e
}

// DigestURL returns the hex SHA-256 of url, or "" for an empty url.
func DigestURL(url string) string {
	if url == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (e *Entry) urlDigest() string {
	if e.URLDigest != "" {
		return e.URLDigest
	}
	return DigestURL(e.URL)
}

// content is the tree a merge compares: the URL, its digest and the tools
// sorted by name. The digest makes an endpoint move visible when URLs are
// not persisted.
func (e *Entry) content() *tree.Node {
	tools := append([]Tool(nil), e.Tools...)
	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	items := make([]*tree.Node, 0, len(tools))
	for _, t := range tools {
		items = append(items, t.tree())
	}
	return tree.NewObject(
		tree.Member{Key: "url", Value: tree.NewString(e.URL)},
		tree.Member{Key: "url_sha256", Value: tree.NewString(e.urlDigest())},
		tree.Member{Key: "tools", Value: tree.NewArray(items...)},
	)
}

// tree renders the persisted form of a tool.
func (t Tool) tree() *tree.Node {
	n := tree.NewObject(tree.Member{Key: "name", Value: tree.NewString(t.Name)})
	if t.Description != "" {
		n.Set("description", tree.NewString(t.Description))
	}
	if !t.InputSchema.Empty() {
		n.Set("inputSchema", t.InputSchema)
	}
	return n
}

func computeMetadata(entries []*Entry, generatedAt time.Time) Metadata {
	m := Metadata{GeneratedAt: FormatTime(generatedAt), TotalServers: len(entries)}
	for _, e := range entries {
		switch e.Status {
		case probe.StatusOnline:
			m.OnlineServers++
		case probe.StatusOffline:
			m.OfflineServers++
		case probe.StatusError, probe.StatusUnknown:
			m.ErrorServers++
		}
	}
	return m
}

func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}
