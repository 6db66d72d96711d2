package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/normalizer"
)

// LocalFile is an explicit document on disk.
type LocalFile struct {
	Path string
}

func (f *LocalFile) Name() string   { return f.Path }
func (f *LocalFile) Explicit() bool { return true }

func (f *LocalFile) Fetch(ctx context.Context) ([]normalizer.Document, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, cerrors.NewFetchFailure(f.Path, "read", 0, err)
	}
	return []normalizer.Document{{Label: f.Path, Data: data}}, nil
}

// LocalDir scans a directory tree for .json documents.
type LocalDir struct {
	Root string

	// ModifiedSince skips files older than this age. Zero keeps all files.
	ModifiedSince time.Duration

	Logger *logger.Logger
	now    func() time.Time
}

func (d *LocalDir) Name() string   { return d.Root }
func (d *LocalDir) Explicit() bool { return false }

// Fetch walks Root in lexical order. Unreadable files are skipped with a
// warning; an unreadable root fails the scan.
func (d *LocalDir) Fetch(ctx context.Context) ([]normalizer.Document, error) {
	log := logger.OrNop(d.Logger).WithComponent("source").WithSource(d.Root)
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	var threshold time.Time
	if d.ModifiedSince > 0 {
		threshold = now().Add(-d.ModifiedSince)
	}

	if _, err := os.Stat(d.Root); err != nil {
		return nil, cerrors.NewFetchFailure(d.Root, "list", 0, err)
	}

	var paths []string
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == d.Root {
				return err
			}
			log.WithError(err).Warnf("Skipping unreadable path %s", path)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !isJSONName(entry.Name()) {
			return nil
		}
		if !threshold.IsZero() {
			info, err := entry.Info()
			if err != nil || info.ModTime().Before(threshold) {
				return nil
			}
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, cerrors.NewCancelled(d.Root, "list")
		}
		return nil, cerrors.NewFetchFailure(d.Root, "list", 0, err)
	}
	sort.Strings(paths)

	docs := make([]normalizer.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable file %s", path)
			continue
		}
		docs = append(docs, normalizer.Document{Label: path, Data: data})
	}
	log.Debugf("Found %d JSON documents", len(docs))
	return docs, nil
}

func isJSONName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
