package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
)

// Format selects the rendering.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name. Empty means YAML.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatYAML, "yml":
		return FormatYAML, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format %q (use yaml or json)", s)
	}
}

// Render returns the bytes to write. A catalog loaded from disk and
// returned unchanged by Merge renders as its original bytes.
func Render(c *Catalog, format Format) ([]byte, error) {
	if format == FormatJSON {
		return EncodeJSON(c)
	}
	if c.source != nil {
		return c.source, nil
	}
	return Encode(c)
}

// Load reads a catalog. A missing file returns (nil, nil). Unreadable or
// corrupt files return a SerializationFailure.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, cerrors.NewSerializationFailure(path, "read", err)
	}

	c, err := Decode(data)
	if err != nil {
		return nil, cerrors.NewSerializationFailure(path, "decode", err)
	}
	return c, nil
}

// Save writes c as YAML through a temporary file in the same directory
// and renames it into place. It reports false when the file already held
// exactly these bytes and nothing was written.
func Save(path string, c *Catalog) (bool, error) {
	data, err := Render(c, FormatYAML)
	if err != nil {
		return false, cerrors.NewSerializationFailure(path, "encode", err)
	}

	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) {
		return false, nil
	}

	if err := writeAtomic(path, data, 0o644); err != nil {
		return false, cerrors.NewSerializationFailure(path, "write", err)
	}
	return true, nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
