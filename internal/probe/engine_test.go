package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	chttp "github.com/PentesterFlow/mcp-catalog/internal/http"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
)

// fakeMCP is a minimal streamable-HTTP MCP server.
type fakeMCP struct {
	mu sync.Mutex

	sessionID   string
	tools       string // raw JSON of the tools array
	initStatus  int
	initError   string
	listError   string
	eventStream bool
	delay       time.Duration

	methods     []string
	listSession string
	passKey     string
}

func (f *fakeMCP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
	}
	json.Unmarshal(body, &req)

	if r.Method == http.MethodDelete {
		return
	}

	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	var payload string
	switch req.Method {
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
		return
	case "initialize":
		if f.initStatus != 0 {
			w.WriteHeader(f.initStatus)
			return
		}
		if f.sessionID != "" {
			w.Header().Set("Mcp-Session-Id", f.sessionID)
		}
		if f.initError != "" {
			payload = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32600,"message":%q}}`, req.ID, f.initError)
		} else {
			payload = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"fake","version":"0"}}}`, req.ID)
		}
	case "tools/list":
		f.mu.Lock()
		f.listSession = r.Header.Get("Mcp-Session-Id")
		f.passKey = r.Header.Get("KAMUI-CODE-PASS")
		f.mu.Unlock()
		if f.listError != "" {
			payload = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":%q}}`, req.ID, f.listError)
		} else {
			payload = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":%s}}`, req.ID, f.tools)
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if f.eventStream {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, payload)
}

func newTestEngine(timeout time.Duration) *Engine {
	cfg := DefaultConfig()
	cfg.Timeout = timeout
	return NewEngine(cfg, nil, nil)
}

func httpEndpoint(url string) Endpoint {
	return Endpoint{ID: "srv", URL: url, Transport: TransportStreamableHTTP, Source: "test"}
}

// =============================================================================
// Streamable HTTP Tests
// =============================================================================

func TestEngine_Probe_Online(t *testing.T) {
	fake := &fakeMCP{
		sessionID: "session-123",
		tools:     `[{"name":"search","description":"Search things","inputSchema":{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}},{"description":"no name"},{"name":"ping"}]`,
	}
	ts := httptest.NewServer(fake)
	defer ts.Close()

	ep := httpEndpoint(ts.URL)
	ep.Headers = map[string]string{"KAMUI-CODE-PASS": "secret"}
	out := newTestEngine(5*time.Second).Probe(context.Background(), ep)

	if out.Status != StatusOnline {
		t.Fatalf("Status = %s (%s), want online", out.Status, out.Error)
	}
	if out.Error != "" {
		t.Errorf("Error = %q, want empty", out.Error)
	}
	if len(out.Tools) != 3 {
		t.Fatalf("len(Tools) = %d, want 3", len(out.Tools))
	}
	if out.Tools[0].Name != "search" || out.Tools[1].Name != "" || out.Tools[2].Name != "ping" {
		t.Errorf("tool order/names = %q %q %q", out.Tools[0].Name, out.Tools[1].Name, out.Tools[2].Name)
	}
	if out.Tools[1].Description != "no name" {
		t.Errorf("nameless tool description = %q", out.Tools[1].Description)
	}
	if got, _ := json.Marshal(out.Tools[0].InputSchema); string(got) != `{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}` {
		t.Errorf("InputSchema = %s", got)
	}
	if out.Tools[2].InputSchema != nil {
		t.Error("missing inputSchema should stay nil")
	}
	if out.CheckedAt.IsZero() {
		t.Error("CheckedAt should be set")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if strings.Join(fake.methods, ",") != "initialize,notifications/initialized,tools/list" {
		t.Errorf("methods = %v", fake.methods)
	}
	if fake.listSession != "session-123" {
		t.Errorf("session id echoed = %q, want session-123", fake.listSession)
	}
	if fake.passKey != "secret" {
		t.Errorf("endpoint headers not sent, got %q", fake.passKey)
	}
}

func TestEngine_Probe_EmptyToolList(t *testing.T) {
	ts := httptest.NewServer(&fakeMCP{tools: `[]`})
	defer ts.Close()

	out := newTestEngine(5*time.Second).Probe(context.Background(), httpEndpoint(ts.URL))
	if out.Status != StatusOnline {
		t.Fatalf("Status = %s (%s)", out.Status, out.Error)
	}
	if out.Tools == nil || len(out.Tools) != 0 {
		t.Errorf("Tools = %v, want empty non-nil", out.Tools)
	}
}

func TestEngine_Probe_EventStream(t *testing.T) {
	ts := httptest.NewServer(&fakeMCP{tools: `[{"name":"a"}]`, eventStream: true})
	defer ts.Close()

	out := newTestEngine(5*time.Second).Probe(context.Background(), httpEndpoint(ts.URL))
	if out.Status != StatusOnline || len(out.Tools) != 1 {
		t.Fatalf("Status = %s (%s), tools = %d", out.Status, out.Error, len(out.Tools))
	}
}

func TestEngine_Probe_Failures(t *testing.T) {
	tests := []struct {
		name    string
		fake    *fakeMCP
		wantMsg string
	}{
		{"http status", &fakeMCP{initStatus: http.StatusUnauthorized}, "initialize error: request failed with status 401"},
		{"initialize rpc error", &fakeMCP{initError: "bad pass"}, "initialize error: rpc error -32600: bad pass"},
		{"tools/list rpc error", &fakeMCP{listError: "nope"}, "tools/list error: rpc error -32601: nope"},
		{"malformed tools", &fakeMCP{tools: `"oops"`}, "tools/list result has tools of type string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.fake)
			defer ts.Close()

			out := newTestEngine(5*time.Second).Probe(context.Background(), httpEndpoint(ts.URL))
			if out.Status != StatusError {
				t.Fatalf("Status = %s, want error", out.Status)
			}
			if !strings.Contains(out.Error, tt.wantMsg) {
				t.Errorf("Error = %q, want it to contain %q", out.Error, tt.wantMsg)
			}
			if len(out.Tools) != 0 {
				t.Errorf("Tools = %v, want none", out.Tools)
			}
		})
	}
}

func TestEngine_Probe_Timeout(t *testing.T) {
	ts := httptest.NewServer(&fakeMCP{tools: `[]`, delay: 2 * time.Second})
	defer ts.Close()

	start := time.Now()
	out := newTestEngine(100*time.Millisecond).Probe(context.Background(), httpEndpoint(ts.URL))

	if out.Status != StatusOffline {
		t.Fatalf("Status = %s (%s), want offline", out.Status, out.Error)
	}
	if out.Error != TimeoutMessage {
		t.Errorf("Error = %q, want %q", out.Error, TimeoutMessage)
	}
	if time.Since(start) > time.Second {
		t.Error("probe did not stop at its deadline")
	}
}

func TestEngine_Probe_TransportTimeoutIsAnError(t *testing.T) {
	// Accepts TCP but never speaks TLS.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()

	clientCfg := chttp.DefaultClientConfig()
	clientCfg.DialTimeout = 200 * time.Millisecond
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	e := NewEngine(cfg, chttp.NewClient(clientCfg), nil)

	for _, tr := range []Transport{TransportStreamableHTTP, TransportSSE} {
		t.Run(string(tr), func(t *testing.T) {
			ep := Endpoint{ID: "tls", URL: "https://" + ln.Addr().String() + "/mcp", Transport: tr}

			start := time.Now()
			out := e.Probe(context.Background(), ep)

			if out.Status != StatusError {
				t.Fatalf("Status = %s (%s), want error", out.Status, out.Error)
			}
			if out.Error == TimeoutMessage || !strings.Contains(out.Error, "TLS handshake timeout") {
				t.Errorf("Error = %q, want the transport's own message", out.Error)
			}
			if time.Since(start) > 3*time.Second {
				t.Error("probe waited for its own deadline")
			}
		})
	}
}

func TestEngine_Probe_ConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(&fakeMCP{})
	url := ts.URL
	ts.Close()

	out := newTestEngine(5*time.Second).Probe(context.Background(), httpEndpoint(url))
	if out.Status != StatusError {
		t.Fatalf("Status = %s, want error", out.Status)
	}
	if !strings.Contains(out.Error, "connection refused") {
		t.Errorf("Error = %q, want connection refused", out.Error)
	}
}

func TestEngine_Probe_ParentCancelled(t *testing.T) {
	ts := httptest.NewServer(&fakeMCP{tools: `[]`, delay: 2 * time.Second})
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	out := newTestEngine(5*time.Second).Probe(ctx, httpEndpoint(ts.URL))
	if out.Status != StatusError {
		t.Errorf("Status = %s, want error for a cancelled run", out.Status)
	}
}

func TestEngine_Probe_UnsupportedTransport(t *testing.T) {
	ep := Endpoint{ID: "x", URL: "http://127.0.0.1:1", Transport: "stdio"}
	out := newTestEngine(time.Second).Probe(context.Background(), ep)

	if out.Status != StatusError || !strings.Contains(out.Error, `unsupported transport "stdio"`) {
		t.Errorf("Outcome = %s / %q", out.Status, out.Error)
	}
}

func TestEngine_Probe_RecoversPanic(t *testing.T) {
	e := newTestEngine(time.Second)
	e.transports[TransportSSE] = func(ctx context.Context, ep Endpoint) ([]Tool, error) {
		panic("kaboom")
	}

	out := e.Probe(context.Background(), Endpoint{ID: "p", URL: "http://x", Transport: TransportSSE})
	if out.Status != StatusError || !strings.Contains(out.Error, "kaboom") {
		t.Errorf("Outcome = %s / %q", out.Status, out.Error)
	}
	if out.ID != "p" || out.CheckedAt.IsZero() {
		t.Errorf("Outcome identity = %q, checked = %v", out.ID, out.CheckedAt)
	}
}

func TestEngine_HostRate(t *testing.T) {
	ts := httptest.NewServer(&fakeMCP{tools: `[]`})
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.HostRate = 20
	e := NewEngine(cfg, nil, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if out := e.Probe(context.Background(), httpEndpoint(ts.URL)); !out.Online() {
			t.Fatalf("probe %d: %s (%s)", i, out.Status, out.Error)
		}
	}
	if time.Since(start) < 80*time.Millisecond {
		t.Error("probes to one host should be paced")
	}
}

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine(Config{}, nil, nil)

	if e.Timeout() != 60*time.Second {
		t.Errorf("Timeout() = %v, want 60s", e.Timeout())
	}
	if e.config.ProtocolVersion != DefaultProtocolVersion {
		t.Errorf("ProtocolVersion = %q", e.config.ProtocolVersion)
	}
	if e.config.ClientInfo.Name == "" {
		t.Error("ClientInfo should default")
	}
}

// =============================================================================
// SSE Tests
// =============================================================================

func TestEngine_Probe_SSE(t *testing.T) {
	s := server.NewMCPServer("fake-sse", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Search the index"),
			mcp.WithString("query", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("ok"), nil
		},
	)
	ts := server.NewTestServer(s)
	defer ts.Close()

	ep := Endpoint{ID: "sse", URL: ts.URL + "/sse", Transport: TransportSSE}
	out := newTestEngine(5*time.Second).Probe(context.Background(), ep)

	if out.Status != StatusOnline {
		t.Fatalf("Status = %s (%s), want online", out.Status, out.Error)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "search" {
		t.Fatalf("Tools = %+v", out.Tools)
	}
	if out.Tools[0].Description != "Search the index" {
		t.Errorf("Description = %q", out.Tools[0].Description)
	}
	schema := out.Tools[0].InputSchema
	if typ, _ := schema.GetString("type"); typ != "object" {
		t.Errorf("schema type = %q", typ)
	}
	if props, ok := schema.Get("properties"); !ok || props.Len() != 1 {
		t.Errorf("schema properties = %v", props)
	}
}

func TestEngine_Probe_SSERawSchema(t *testing.T) {
	const schema = `{"type":"object","properties":{"z":{"type":"string","title":"Zed"},"a":{"type":"integer"}},"required":["z"],"additionalProperties":false,"$schema":"http://json-schema.org/draft-07/schema#"}`

	s := server.NewMCPServer("raw-sse", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewToolWithRawSchema("lookup", "Look things up", json.RawMessage(schema)),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("ok"), nil
		},
	)
	ts := server.NewTestServer(s)
	defer ts.Close()

	out := newTestEngine(5*time.Second).Probe(context.Background(), Endpoint{ID: "raw", URL: ts.URL + "/sse", Transport: TransportSSE})
	if out.Status != StatusOnline || len(out.Tools) != 1 {
		t.Fatalf("Status = %s (%s), tools = %+v", out.Status, out.Error, out.Tools)
	}

	got, err := json.Marshal(out.Tools[0].InputSchema)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if string(got) != schema {
		t.Errorf("InputSchema = %s\nwant %s", got, schema)
	}
}

func TestEngine_Probe_SSEManyOnOneHost(t *testing.T) {
	const probes = 30

	s := server.NewMCPServer("busy-sse", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("ping"), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("pong"), nil
	})
	ts := server.NewTestServer(s)
	defer ts.Close()

	e := newTestEngine(10 * time.Second)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, probes)
	for i := 0; i < probes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ep := Endpoint{ID: fmt.Sprintf("s%d", i), URL: ts.URL + "/sse", Transport: TransportSSE}
			outcomes[i] = e.Probe(context.Background(), ep)
		}(i)
	}
	wg.Wait()

	counts := map[Status]int{}
	for _, out := range outcomes {
		counts[out.Status]++
	}
	if counts[StatusOnline] != probes {
		t.Errorf("statuses = %v, want all %d online", counts, probes)
	}
}

func TestEngine_Probe_SSEUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	ep := Endpoint{ID: "sse", URL: ts.URL + "/sse", Transport: TransportSSE}
	out := newTestEngine(2*time.Second).Probe(context.Background(), ep)

	if out.Online() {
		t.Fatal("probe of a 404 endpoint should not be online")
	}
	if out.Error == "" {
		t.Error("Error should describe the failure")
	}
}

func TestTransportLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: logger.DebugLevel, Output: &buf})
	tl := transportLogger{log.WithEndpoint("sse", "https://example.com/sse")}

	tl.Errorf("SSE stream error: %v", io.ErrUnexpectedEOF)
	tl.Infof("stream %s", "open")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	var first, second map[string]interface{}
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)

	if first["level"] != "warn" || first["message"] != "SSE stream error: unexpected EOF" || first["server"] != "sse" {
		t.Errorf("error line = %v", first)
	}
	if second["level"] != "debug" || second["message"] != "stream open" {
		t.Errorf("info line = %v", second)
	}
}
