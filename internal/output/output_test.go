package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/mcp-catalog/internal/catalog"
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
)

// mockFlusher implements io.Writer with Flush support
type mockFlusher struct {
	bytes.Buffer
	flushed bool
}

func (m *mockFlusher) Flush() error {
	m.flushed = true
	return nil
}

// mockCloser implements io.Writer with Close support
type mockCloser struct {
	bytes.Buffer
	closed bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return nil
}

// mockWriteError simulates write errors
type mockWriteError struct {
	err error
}

func (m *mockWriteError) Write(p []byte) (n int, err error) {
	return 0, m.err
}

var reportTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testOutcomes() []probe.Outcome {
	return []probe.Outcome{
		{ID: "alpha", URL: "https://a.example/mcp?token=secret", Status: probe.StatusOnline, CheckedAt: reportTime, Tools: []probe.Tool{{Name: "search"}, {Name: "fetch"}}, Duration: 120 * time.Millisecond},
		{ID: "beta", Status: probe.StatusOffline, CheckedAt: reportTime, Error: probe.TimeoutMessage},
		{ID: "gamma", Status: probe.StatusError, CheckedAt: reportTime, Error: "initialize failed: HTTP 401"},
	}
}

func testCatalog() *catalog.Catalog {
	return catalog.Generate(testOutcomes(), catalog.Options{Now: func() time.Time { return reportTime }})
}

func testReport() *RunReport {
	servers, stats := Summarize(testOutcomes())
	return &RunReport{
		StartedAt:   reportTime,
		CompletedAt: reportTime.Add(3 * time.Second),
		Duration:    3 * time.Second,
		Output:      "mcp_tool_catalog.yml",
		Written:     true,
		Sources:     SourceStats{Sources: 2, Documents: 3, Explicit: 1, Bulk: 2},
		Statistics:  stats,
		Merge:       &catalog.Report{Changed: true, Inserted: []string{"alpha"}},
		Servers:     servers,
	}
}

// =============================================================================
// Summarize Tests
// =============================================================================

func TestSummarize(t *testing.T) {
	servers, stats := Summarize(testOutcomes())

	want := Statistics{Servers: 3, Online: 1, Offline: 1, Errors: 1, Tools: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if len(servers) != 3 || servers[0].ID != "alpha" || servers[0].Tools != 2 {
		t.Errorf("servers = %+v", servers)
	}
	if servers[2].Error != "initialize failed: HTTP 401" {
		t.Errorf("error = %q", servers[2].Error)
	}
}

// =============================================================================
// Writer Tests
// =============================================================================

func TestNewWriter(t *testing.T) {
	tests := []struct {
		format catalog.Format
		isJSON bool
	}{
		{catalog.FormatJSON, true},
		{catalog.FormatYAML, false},
		{"", false},
	}

	for _, tt := range tests {
		w := NewWriter(&bytes.Buffer{}, Config{Format: tt.format})
		if _, ok := w.(*JSONWriter); ok != tt.isJSON {
			t.Errorf("NewWriter(%q) = %T", tt.format, w)
		}
	}
}

func TestJSONWriter_WriteCatalog(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf, true)

	if err := w.WriteCatalog(testCatalog()); err != nil {
		t.Fatalf("WriteCatalog() error = %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := doc["metadata"]; !ok {
		t.Error("missing metadata")
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("URL written without IncludeURL")
	}
}

func TestJSONWriter_WriteReport(t *testing.T) {
	tests := []struct {
		name   string
		pretty bool
	}{
		{"compact", false},
		{"pretty", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewJSONWriter(&buf, tt.pretty)

			if err := w.WriteReport(testReport()); err != nil {
				t.Fatalf("WriteReport() error = %v", err)
			}

			var back RunReport
			if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if back.Statistics.Online != 1 || back.Merge == nil || back.Merge.Inserted[0] != "alpha" {
				t.Errorf("report = %+v", back)
			}
			if got := strings.Contains(buf.String(), "\n  "); got != tt.pretty {
				t.Errorf("indented = %v, want %v", got, tt.pretty)
			}
		})
	}
}

func TestYAMLWriter_WriteCatalog(t *testing.T) {
	var buf bytes.Buffer
	w := NewYAMLWriter(&buf)
	c := testCatalog()

	if err := w.WriteCatalog(c); err != nil {
		t.Fatalf("WriteCatalog() error = %v", err)
	}

	want, _ := catalog.Render(c, catalog.FormatYAML)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("output differs from saved rendering:\n%s", buf.String())
	}
}

func TestYAMLWriter_WriteReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewYAMLWriter(&buf)

	if err := w.WriteReport(testReport()); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if doc["duration"] != "3s" {
		t.Errorf("duration = %v, want 3s", doc["duration"])
	}
	for _, key := range []string{"sources", "statistics", "merge", "servers"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}

func TestWriter_FlushAndClose(t *testing.T) {
	for _, format := range []catalog.Format{catalog.FormatJSON, catalog.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			f := &mockFlusher{}
			w := NewWriter(f, Config{Format: format})
			if err := w.Flush(); err != nil || !f.flushed {
				t.Errorf("Flush() = %v, flushed = %v", err, f.flushed)
			}

			c := &mockCloser{}
			w = NewWriter(c, Config{Format: format})
			if err := w.Close(); err != nil || !c.closed {
				t.Errorf("Close() = %v, closed = %v", err, c.closed)
			}

			// Writes after Close are dropped.
			if err := w.WriteReport(testReport()); err != nil {
				t.Errorf("WriteReport() after Close = %v", err)
			}
			if c.Len() != 0 {
				t.Errorf("wrote %d bytes after Close", c.Len())
			}
		})
	}
}

func TestWriter_WriteError(t *testing.T) {
	boom := errors.New("disk full")

	for _, format := range []catalog.Format{catalog.FormatJSON, catalog.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			w := NewWriter(&mockWriteError{err: boom}, Config{Format: format})
			if err := w.WriteCatalog(testCatalog()); !errors.Is(err, boom) {
				t.Errorf("WriteCatalog() error = %v, want %v", err, boom)
			}
		})
	}
}

// =============================================================================
// Report File Tests
// =============================================================================

func TestWriteReportFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		check func([]byte) error
	}{
		{"report.json", func(data []byte) error {
			var r RunReport
			return json.Unmarshal(data, &r)
		}},
		{"nested/report.yaml", func(data []byte) error {
			var r map[string]interface{}
			return yaml.Unmarshal(data, &r)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := WriteReportFile(path, testReport()); err != nil {
				t.Fatalf("WriteReportFile() error = %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			if err := tt.check(data); err != nil {
				t.Errorf("decode %s: %v\n%s", tt.name, err, data)
			}
		})
	}
}

func TestWriteReportFile_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	os.WriteFile(blocker, []byte("x"), 0o644)

	if err := WriteReportFile(filepath.Join(blocker, "report.json"), testReport()); err == nil {
		t.Error("WriteReportFile() should fail below a regular file")
	}
}
