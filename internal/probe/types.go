// Package probe talks to MCP servers: one initialize/tools-list handshake
// per endpoint, classified into an Outcome.
package probe

import (
	"strings"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/tree"
)

// Status is the classification of one probe.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
	// StatusUnknown only appears in catalogs written by other tools.
	StatusUnknown Status = "unknown"
)

// MultipleSources is the URL reported when a failure cannot be attributed
// to one candidate.
const MultipleSources = "(multiple sources)"

// TimeoutMessage is the error text of an offline outcome.
const TimeoutMessage = "Connection timeout"

// Transport selects the wire protocol for an endpoint.
type Transport string

const (
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ParseTransport normalizes a configured transport name. Empty means SSE.
// Unknown names are returned lower-cased so the probe can report them.
func ParseTransport(s string) Transport {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sse":
		return TransportSSE
	case "streamable-http", "streamable_http", "streamablehttp", "http":
		return TransportStreamableHTTP
	default:
		return Transport(strings.ToLower(strings.TrimSpace(s)))
	}
}

// Endpoint is one candidate definition of an MCP server.
type Endpoint struct {
	ID        string
	URL       string
	Transport Transport
	Headers   map[string]string
	Source    string // label of the config document it came from
}

// Tool is one capability advertised by a server.
type Tool struct {
	Name        string
	Description string
	InputSchema *tree.Node
}

// Outcome is the result of probing one logical endpoint.
type Outcome struct {
	ID        string
	URL       string
	Status    Status
	CheckedAt time.Time
	Tools     []Tool
	Error     string
	Duration  time.Duration
}

// Online reports whether the server answered the full handshake.
func (o Outcome) Online() bool {
	return o.Status == StatusOnline
}
