// Package source retrieves raw MCP configuration documents from local files
// and Google Drive.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/normalizer"
)

// Source yields configuration documents.
//
// Explicit sources return exactly one document and any error is fatal for
// the run. Bulk sources skip unreadable documents themselves and only
// return an error when the listing failed.
type Source interface {
	Name() string
	Explicit() bool
	Fetch(ctx context.Context) ([]normalizer.Document, error)
}

// FileRef names one remote file.
type FileRef struct {
	Name string `json:"name" yaml:"name"`
	ID   string `json:"id" yaml:"id"`
}

// ParseFileRefs parses DRIVE_FILE_IDS: either a JSON array whose items are
// {name, id} objects or bare ids, or comma-separated ids. Unnamed entries are
// labelled Source_N by position. A malformed array is read as a
// comma-separated list.
func ParseFileRefs(value string) []FileRef {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(value), &items); err == nil {
			var refs []FileRef
			for i, item := range items {
				label := fmt.Sprintf("Source_%d", i+1)
				var ref FileRef
				var id string
				switch {
				case json.Unmarshal(item, &id) == nil:
					ref = FileRef{Name: label, ID: id}
				case json.Unmarshal(item, &ref) == nil:
					if !hasKey(item, "name") {
						ref.Name = label
					}
				default:
					continue
				}
				if ref.ID != "" {
					refs = append(refs, ref)
				}
			}
			return refs
		}
	}

	var refs []FileRef
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			refs = append(refs, FileRef{Name: fmt.Sprintf("Source_%d", len(refs)+1), ID: id})
		}
	}
	return refs
}

func hasKey(obj json.RawMessage, key string) bool {
	var m map[string]json.RawMessage
	if json.Unmarshal(obj, &m) != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// Stats summarizes a collection pass.
type Stats struct {
	Sources   int
	Documents int
	Explicit  int
	Bulk      int
}

// Collect fetches every source and returns explicit documents before bulk
// documents, each group in source order.
func Collect(ctx context.Context, sources []Source, log *logger.Logger) ([]normalizer.Document, Stats, error) {
	log = logger.OrNop(log).WithComponent("source")
	stats := Stats{Sources: len(sources)}

	if len(sources) == 0 {
		return nil, stats, cerrors.NewConfigurationMissing("no configuration source is set")
	}

	var explicit, bulk []normalizer.Document
	for _, pass := range []bool{true, false} {
		for _, src := range sources {
			if src.Explicit() != pass {
				continue
			}
			docs, err := src.Fetch(ctx)
			if err != nil {
				if cerrors.KindOf(err) == cerrors.Unknown {
					err = cerrors.NewFetchFailure(src.Name(), "fetch", 0, err)
				}
				return nil, stats, err
			}
			for i := range docs {
				docs[i].Explicit = pass
			}
			if pass {
				explicit = append(explicit, docs...)
			} else {
				bulk = append(bulk, docs...)
			}
			log.WithSource(src.Name()).Infof("Fetched %d config documents", len(docs))
		}
	}

	stats.Explicit = len(explicit)
	stats.Bulk = len(bulk)
	stats.Documents = stats.Explicit + stats.Bulk
	return append(explicit, bulk...), stats, nil
}
