package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/mcp-catalog/internal/probe"
	"github.com/PentesterFlow/mcp-catalog/internal/tree"
)

// Keys of the persisted document.
const (
	keyMetadata       = "metadata"
	keyServers        = "servers"
	keyGeneratedAt    = "generated_at"
	keyTotalServers   = "total_servers"
	keyOnlineServers  = "online_servers"
	keyOfflineServers = "offline_servers"
	keyErrorServers   = "error_servers"
	keyID             = "id"
	keyURL            = "url"
	keyURLDigest      = "url_sha256"
	keyStatus         = "status"
	keyLastChecked    = "last_checked"
	keyTools          = "tools"
	keyErrorMessage   = "error_message"
	keyName           = "name"
	keyDescription    = "description"
	keyInputSchema    = "inputSchema"
)

// Encode renders c as YAML: metadata first, then servers, then any unknown
// top-level keys carried over from a loaded catalog. Entries decoded from a
// previous file are written from their original nodes.
func Encode(c *Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c.document()); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJSON renders c as indented JSON with the same key order as Encode.
func EncodeJSON(c *Catalog) ([]byte, error) {
	node, err := tree.FromYAML(c.document())
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	compact, err := node.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (c *Catalog) document() *yaml.Node {
	servers := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, e := range c.Servers {
		servers.Content = append(servers.Content, e.node())
	}

	root := mapping(
		tree.StringNode(keyMetadata), c.Metadata.node(),
		tree.StringNode(keyServers), servers,
	)
	root.Content = append(root.Content, c.extra...)
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
}

func (m Metadata) node() *yaml.Node {
	return mapping(
		tree.StringNode(keyGeneratedAt), tree.StringNode(m.GeneratedAt),
		tree.StringNode(keyTotalServers), intNode(m.TotalServers),
		tree.StringNode(keyOnlineServers), intNode(m.OnlineServers),
		tree.StringNode(keyOfflineServers), intNode(m.OfflineServers),
		tree.StringNode(keyErrorServers), intNode(m.ErrorServers),
	)
}

func (e *Entry) node() *yaml.Node {
	if e.raw != nil {
		return e.raw
	}

	n := mapping(tree.StringNode(keyID), tree.StringNode(e.ID))
	if e.URL != "" {
		n.Content = append(n.Content, tree.StringNode(keyURL), tree.StringNode(e.URL))
	}
	if e.URLDigest != "" {
		n.Content = append(n.Content, tree.StringNode(keyURLDigest), tree.StringNode(e.URLDigest))
	}
	n.Content = append(n.Content,
		tree.StringNode(keyStatus), tree.StringNode(string(e.Status)),
		tree.StringNode(keyLastChecked), tree.StringNode(e.LastChecked),
	)
	if len(e.Tools) > 0 {
		tools := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, t := range e.Tools {
			tools.Content = append(tools.Content, t.tree().YAML())
		}
		n.Content = append(n.Content, tree.StringNode(keyTools), tools)
	}
	if e.ErrorMessage != "" {
		n.Content = append(n.Content, tree.StringNode(keyErrorMessage), tree.StringNode(e.ErrorMessage))
	}
	return n
}

func mapping(content ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: content}
}

func intNode(v int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
}

// Decode parses a persisted catalog. Unknown keys are kept. Server entries
// that are not mappings, have no id, or repeat an earlier id are dropped
// and counted in Dropped.
func Decode(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}
	root := resolve(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level is not a mapping", root.Line)
	}

	c := &Catalog{source: data}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], resolve(root.Content[i+1])
		switch key.Value {
		case keyMetadata:
			c.Metadata = decodeMetadata(value)
		case keyServers:
			if value.Kind != yaml.SequenceNode {
				if value.ShortTag() == "!!null" {
					continue
				}
				return nil, fmt.Errorf("line %d: servers is not a sequence", value.Line)
			}
			for _, item := range value.Content {
				e, ok := decodeEntry(resolve(item))
				if !ok || seen[e.ID] {
					c.dropped++
					continue
				}
				seen[e.ID] = true
				c.Servers = append(c.Servers, e)
			}
		default:
			c.extra = append(c.extra, key, root.Content[i+1])
		}
	}
	return c, nil
}

// Dropped returns the number of server entries Decode discarded.
func (c *Catalog) Dropped() int {
	return c.dropped
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func decodeMetadata(n *yaml.Node) Metadata {
	var m Metadata
	eachPair(n, func(key string, v *yaml.Node) {
		switch key {
		case keyGeneratedAt:
			m.GeneratedAt = v.Value
		case keyTotalServers:
			m.TotalServers, _ = strconv.Atoi(v.Value)
		case keyOnlineServers:
			m.OnlineServers, _ = strconv.Atoi(v.Value)
		case keyOfflineServers:
			m.OfflineServers, _ = strconv.Atoi(v.Value)
		case keyErrorServers:
			m.ErrorServers, _ = strconv.Atoi(v.Value)
		}
	})
	return m
}

func decodeEntry(n *yaml.Node) (*Entry, bool) {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, false
	}

	e := &Entry{raw: n}
	eachPair(n, func(key string, v *yaml.Node) {
		switch key {
		case keyID:
			e.ID = scalar(v)
		case keyURL:
			e.URL = scalar(v)
		case keyURLDigest:
			e.URLDigest = scalar(v)
		case keyStatus:
			e.Status = probe.Status(scalar(v))
		case keyLastChecked:
			e.LastChecked = scalar(v)
		case keyErrorMessage:
			e.ErrorMessage = scalar(v)
		case keyTools:
			if v.Kind == yaml.SequenceNode {
				for _, item := range v.Content {
					e.Tools = append(e.Tools, decodeTool(resolve(item)))
				}
			}
		}
	})
	if e.ID == "" {
		return nil, false
	}
	return e, true
}

func decodeTool(n *yaml.Node) Tool {
	var t Tool
	eachPair(n, func(key string, v *yaml.Node) {
		switch key {
		case keyName:
			t.Name = scalar(v)
		case keyDescription:
			t.Description = scalar(v)
		case keyInputSchema:
			if schema, err := tree.FromYAML(v); err == nil && schema.Kind() != tree.Null {
				t.InputSchema = schema
			}
		}
	})
	return t
}

// eachPair visits the key/value pairs of a mapping node.
func eachPair(n *yaml.Node, fn func(key string, value *yaml.Node)) {
	if n == nil || n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		fn(resolve(n.Content[i]).Value, resolve(n.Content[i+1]))
	}
}

func scalar(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode || n.ShortTag() == "!!null" {
		return ""
	}
	return n.Value
}
