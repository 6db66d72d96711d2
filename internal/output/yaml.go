package output

import (
	"io"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/mcp-catalog/internal/catalog"
)

// YAMLWriter writes output in YAML format.
type YAMLWriter struct {
	mu     sync.Mutex
	writer io.Writer
	closed bool
}

// NewYAMLWriter creates a new YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	return &YAMLWriter{writer: w}
}

// WriteCatalog writes the catalog exactly as it would be saved.
func (y *YAMLWriter) WriteCatalog(c *catalog.Catalog) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}

	data, err := catalog.Render(c, catalog.FormatYAML)
	if err != nil {
		return err
	}
	_, err = y.writer.Write(data)
	return err
}

// WriteReport writes a run report.
func (y *YAMLWriter) WriteReport(r *RunReport) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}

	enc := yaml.NewEncoder(y.writer)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// Flush flushes the writer.
func (y *YAMLWriter) Flush() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if flusher, ok := y.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer.
func (y *YAMLWriter) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	y.closed = true

	if closer, ok := y.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
