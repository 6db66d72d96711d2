package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/PentesterFlow/mcp-catalog/internal/tree"
)

// DefaultProtocolVersion is sent in the initialize request.
const DefaultProtocolVersion = "2024-11-05"

// ClientInfo identifies the crawler in the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// session drives one handshake over an mcp-go transport. Results are read
// as raw JSON so tool schemas reach the catalog exactly as served.
type session struct {
	transport transport.HTTPConnection
	protocol  string
	info      ClientInfo
	nextID    atomic.Int64
}

func (s *session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := s.transport.SendRequest(ctx, transport.JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(s.nextID.Add(1)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("%s error: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s error: rpc error %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("%s error: response has neither result nor error", method)
	}
	return resp.Result, nil
}

// handshake sends initialize, the initialized notification and tools/list.
func (s *session) handshake(ctx context.Context) ([]Tool, error) {
	result, err := s.call(ctx, string(mcp.MethodInitialize), initializeParams{
		ProtocolVersion: s.protocol,
		Capabilities:    map[string]any{},
		ClientInfo:      s.info,
	})
	if err != nil {
		return nil, err
	}

	var negotiated struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if json.Unmarshal(result, &negotiated) == nil && negotiated.ProtocolVersion != "" {
		s.transport.SetProtocolVersion(negotiated.ProtocolVersion)
	}

	err = s.transport.SendNotification(ctx, mcp.JSONRPCNotification{
		JSONRPC:      mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{Method: "notifications/initialized"},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize error: %w", err)
	}

	result, err = s.call(ctx, string(mcp.MethodToolsList), map[string]any{})
	if err != nil {
		return nil, err
	}
	return parseTools(result)
}

// parseTools reads a tools/list result. Entries keep server order; entries
// without a name are kept with an empty name.
func parseTools(result json.RawMessage) ([]Tool, error) {
	node, err := tree.Parse(result)
	if err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	if !node.IsObject() {
		return nil, fmt.Errorf("tools/list result is a %s, want object", node.Kind())
	}

	list, ok := node.Get("tools")
	if !ok || list.Kind() == tree.Null {
		return []Tool{}, nil
	}
	if list.Kind() != tree.Array {
		return nil, fmt.Errorf("tools/list result has tools of type %s, want array", list.Kind())
	}

	tools := make([]Tool, 0, list.Len())
	for _, item := range list.Items() {
		var tool Tool
		tool.Name, _ = item.GetString("name")
		tool.Description, _ = item.GetString("description")
		if schema, ok := item.Get("inputSchema"); ok && schema.Kind() != tree.Null {
			tool.InputSchema = schema
		}
		tools = append(tools, tool)
	}
	return tools, nil
}
