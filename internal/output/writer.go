// Package output writes catalogs and run reports to streams and files.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/PentesterFlow/mcp-catalog/internal/catalog"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteCatalog writes a complete catalog document
	WriteCatalog(c *catalog.Catalog) error

	// WriteReport writes a run report
	WriteReport(r *RunReport) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format catalog.Format
	Pretty bool
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case catalog.FormatJSON:
		return NewJSONWriter(w, config.Pretty)
	default:
		return NewYAMLWriter(w)
	}
}

// WriteReportFile writes r to path. The format follows the file extension:
// .yml and .yaml give YAML, anything else JSON.
func WriteReportFile(path string, r *RunReport) error {
	format := catalog.FormatJSON
	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		format = catalog.FormatYAML
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}

	w := NewWriter(f, Config{Format: format, Pretty: true})
	if err := w.WriteReport(r); err != nil {
		w.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return w.Close()
}
