// Package normalizer turns raw MCP configuration documents into ordered
// candidate endpoint lists keyed by server identity.
package normalizer

import (
	"reflect"

	"github.com/PentesterFlow/mcp-catalog/internal/auth"
	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
	"github.com/PentesterFlow/mcp-catalog/internal/tree"
)

// serversKey is the member holding server definitions.
const serversKey = "mcpServers"

// Document is one raw configuration document.
type Document struct {
	Label    string
	Data     []byte
	Explicit bool // named by the user rather than found by a scan
}

// Options configures normalization.
type Options struct {
	// Strict fails on explicit documents that are not valid JSON.
	Strict bool

	// Lookup resolves placeholder and pass-key variables. Nil reads the
	// process environment.
	Lookup auth.Lookup

	PassKeyHeader   string
	PassKeyVariable string
}

// Result is the normalized candidate set.
type Result struct {
	// Order lists identities in first-seen order.
	Order      []string
	Candidates map[string][]probe.Endpoint

	Documents     int // documents that contributed servers
	Skipped       int // malformed documents and invalid entries
	NotApplicable int // valid JSON without an mcpServers object
	Conflicts     int
	Unresolved    []string // placeholder names with no value
}

// Len returns the number of identities.
func (r *Result) Len() int {
	return len(r.Order)
}

// Candidate returns the ordered candidates for id.
func (r *Result) Candidate(id string) []probe.Endpoint {
	return r.Candidates[id]
}

// Limit keeps only the first n identities. n <= 0 keeps everything.
func (r *Result) Limit(n int) {
	if n <= 0 || n >= len(r.Order) {
		return
	}
	for _, id := range r.Order[n:] {
		delete(r.Candidates, id)
	}
	r.Order = r.Order[:n]
}

// Normalizer validates documents and applies header rewriting.
type Normalizer struct {
	opts     Options
	expander *auth.Expander
	passKey  *auth.PassKeyAuth
	headers  auth.Provider
	logger   *logger.Logger
}

// New creates a normalizer. The pass-key secret is resolved once here.
func New(opts Options, log *logger.Logger) *Normalizer {
	expander := auth.NewExpander(opts.Lookup)
	passKey := auth.NewPassKeyAuth(opts.PassKeyHeader, opts.PassKeyVariable, opts.Lookup)

	return &Normalizer{
		opts:     opts,
		expander: expander,
		passKey:  passKey,
		headers:  auth.NewChain(auth.NewPlaceholderAuth(expander), passKey),
		logger:   logger.OrNop(log).WithComponent("normalizer"),
	}
}

// PassKeyEnabled reports whether the pass-key override is active.
func (n *Normalizer) PassKeyEnabled() bool {
	return n.passKey.Enabled()
}

// Normalize processes docs in order. Callers pass explicit documents before
// bulk ones; candidates for one identity keep that order. The only error is
// MalformedDocument for an explicit document in strict mode.
func (n *Normalizer) Normalize(docs []Document) (*Result, error) {
	res := &Result{Candidates: make(map[string][]probe.Endpoint)}
	firstExplicit := make(map[string]probe.Endpoint)

	for _, doc := range docs {
		log := n.logger.WithSource(doc.Label)

		root, err := tree.Parse(doc.Data)
		if err != nil {
			if doc.Explicit && n.opts.Strict {
				return nil, cerrors.NewMalformedDocument(doc.Label, err)
			}
			res.Skipped++
			log.WithError(err).Warn("Skipping malformed config document")
			continue
		}

		servers, ok := root.Get(serversKey)
		if !root.IsObject() || !ok || !servers.IsObject() {
			res.NotApplicable++
			if doc.Explicit {
				log.Warnf("Config document has no %s object", serversKey)
			} else {
				log.Debugf("Ignoring document without %s", serversKey)
			}
			continue
		}

		added := 0
		for _, m := range servers.Members() {
			ep, ok := n.endpoint(doc.Label, m, log)
			if !ok {
				res.Skipped++
				continue
			}

			if _, seen := res.Candidates[ep.ID]; !seen {
				res.Order = append(res.Order, ep.ID)
			}
			res.Candidates[ep.ID] = append(res.Candidates[ep.ID], ep)
			added++

			if doc.Explicit {
				if prev, dup := firstExplicit[ep.ID]; dup {
					if conflicting(prev, ep) {
						res.Conflicts++
						log.WithField("server", ep.ID).
							WithField("other_source", prev.Source).
							Warn("Explicit sources define the same server differently; the first is tried first")
					}
				} else {
					firstExplicit[ep.ID] = ep
				}
			}
		}
		if added > 0 {
			res.Documents++
		}
		log.Debugf("Normalized %d servers", added)
	}

	res.Unresolved = n.expander.Unresolved()
	if len(res.Unresolved) > 0 {
		n.logger.WithField("variables", res.Unresolved).Warn("Unresolved header placeholders left verbatim")
	}
	return res, nil
}

// endpoint validates one mcpServers member.
func (n *Normalizer) endpoint(label string, m tree.Member, log *logger.Logger) (probe.Endpoint, bool) {
	log = log.WithField("server", m.Key)

	if m.Key == "" {
		log.Warn("Skipping server with empty identity")
		return probe.Endpoint{}, false
	}
	if !m.Value.IsObject() {
		log.Warnf("Skipping server definition of type %s", m.Value.Kind())
		return probe.Endpoint{}, false
	}
	url, _ := m.Value.GetString("url")
	if url == "" {
		log.Warn("Skipping server without url")
		return probe.Endpoint{}, false
	}

	transport, ok := m.Value.GetString("transport")
	if !ok {
		transport, _ = m.Value.GetString("type")
	}

	headers := make(map[string]string)
	if h, ok := m.Value.Get("headers"); ok && h.Kind() != tree.Null {
		if !h.IsObject() {
			log.Warnf("Ignoring headers of type %s", h.Kind())
		} else {
			for _, hm := range h.Members() {
				v, ok := hm.Value.Str()
				if !ok {
					log.WithField("header", hm.Key).Warnf("Ignoring header value of type %s", hm.Value.Kind())
					continue
				}
				headers[hm.Key] = v
			}
		}
	}

	return probe.Endpoint{
		ID:        m.Key,
		URL:       url,
		Transport: probe.ParseTransport(transport),
		Headers:   n.headers.Apply(headers),
		Source:    label,
	}, true
}

func conflicting(a, b probe.Endpoint) bool {
	if a.URL != b.URL || a.Transport != b.Transport {
		return true
	}
	return !reflect.DeepEqual(a.Headers, b.Headers)
}
