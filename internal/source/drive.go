package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/normalizer"
	"github.com/PentesterFlow/mcp-catalog/internal/ratelimit"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	jsonMimeType   = "application/json"

	listFields = "nextPageToken, files(id, name, mimeType, modifiedTime)"

	maxDocumentSize = 10 * 1024 * 1024
)

// DriveConfig configures the Drive client.
type DriveConfig struct {
	APIKey          string
	CredentialsFile string

	// Endpoint and HTTPClient override the API base URL and transport.
	// A custom HTTPClient bypasses APIKey and CredentialsFile.
	Endpoint   string
	HTTPClient *http.Client

	RequestsPerSecond float64 // API call budget, 0 means unlimited
	Concurrency       int     // parallel downloads in a folder scan
	Retry             cerrors.RetryConfig
}

// DefaultDriveConfig returns conservative API defaults.
func DefaultDriveConfig() DriveConfig {
	return DriveConfig{
		RequestsPerSecond: 5,
		Concurrency:       4,
		Retry:             cerrors.DefaultRetryConfig(),
	}
}

// Drive reads configuration documents from Google Drive.
type Drive struct {
	service     *drive.Service
	limiter     *ratelimit.Limiter
	retrier     *cerrors.Retrier
	concurrency int
	logger      *logger.Logger
}

// NewDrive creates a Drive client. Without an API key or credentials file
// Application Default Credentials are used.
func NewDrive(ctx context.Context, cfg DriveConfig, log *logger.Logger) (*Drive, error) {
	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.CredentialsFile != "":
		opts = append(opts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(drive.DriveReadonlyScope),
		)
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, cerrors.New(cerrors.ConfigurationMissing, "drive", "connect", "failed to create Drive client", err)
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Drive{
		service:     service,
		limiter:     ratelimit.NewLimiter(cfg.RequestsPerSecond, 1),
		retrier:     cerrors.NewRetrier(cfg.Retry),
		concurrency: cfg.Concurrency,
		logger:      logger.OrNop(log).WithComponent("drive"),
	}, nil
}

// File returns an explicit source for one file.
func (d *Drive) File(ref FileRef) *DriveFile {
	return &DriveFile{drive: d, Ref: ref}
}

// Folder returns a bulk source scanning a folder tree.
func (d *Drive) Folder(id string, modifiedSince time.Duration) *DriveFolder {
	return &DriveFolder{drive: d, ID: id, ModifiedSince: modifiedSince, now: time.Now}
}

// call runs one API request under the rate limit with retries.
func call[T any](ctx context.Context, d *Drive, label, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	value, result := cerrors.DoWithResult(ctx, d.retrier, op, label, func(ctx context.Context) (T, error) {
		var zero T
		if err := d.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err != nil {
			return zero, fetchError(ctx, label, op, err)
		}
		return v, nil
	})
	if !result.Success {
		if result.Attempts > 1 {
			d.logger.WithSource(label).WithField("attempts", result.Attempts).Debugf("%s failed after retries", op)
		}
		var zero T
		return zero, result.LastError
	}
	return value, nil
}

func fetchError(ctx context.Context, label, op string, err error) error {
	if ctx.Err() != nil {
		return cerrors.NewCancelled(label, op)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return cerrors.NewFetchFailure(label, op, gerr.Code, err)
	}
	return cerrors.NewFetchFailure(label, op, 0, err)
}

func (d *Drive) download(ctx context.Context, label, id string) ([]byte, error) {
	return call(ctx, d, label, "download", func(ctx context.Context) ([]byte, error) {
		resp, err := d.service.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
		if err != nil {
			return nil, err
		}
		if len(data) > maxDocumentSize {
			return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentSize)
		}
		return data, nil
	})
}

func (d *Drive) children(ctx context.Context, label, folderID string) ([]*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", strings.ReplaceAll(folderID, "'", `\'`))

	var files []*drive.File
	pageToken := ""
	for {
		page, err := call(ctx, d, label, "list", func(ctx context.Context) (*drive.FileList, error) {
			return d.service.Files.List().
				Q(query).
				Fields(listFields).
				PageSize(1000).
				PageToken(pageToken).
				SupportsAllDrives(true).
				IncludeItemsFromAllDrives(true).
				Context(ctx).
				Do()
		})
		if err != nil {
			return nil, err
		}
		files = append(files, page.Files...)
		if page.NextPageToken == "" {
			return files, nil
		}
		pageToken = page.NextPageToken
	}
}

// DriveFile is an explicit document identified by file id.
type DriveFile struct {
	drive *Drive
	Ref   FileRef
}

func (f *DriveFile) Name() string   { return f.Ref.Name }
func (f *DriveFile) Explicit() bool { return true }

func (f *DriveFile) Fetch(ctx context.Context) ([]normalizer.Document, error) {
	f.drive.logger.WithSource(f.Ref.Name).WithField("file_id", f.Ref.ID).Info("Fetching config file")

	data, err := f.drive.download(ctx, f.Ref.Name, f.Ref.ID)
	if err != nil {
		return nil, err
	}
	return []normalizer.Document{{Label: f.Ref.Name, Data: data}}, nil
}

// DriveFolder recursively scans a folder for .json documents.
type DriveFolder struct {
	drive *Drive
	ID    string

	// ModifiedSince skips files not modified within this age. Zero keeps
	// all files.
	ModifiedSince time.Duration

	now func() time.Time
}

func (f *DriveFolder) Name() string   { return "folder:" + f.ID }
func (f *DriveFolder) Explicit() bool { return false }

type driveEntry struct {
	id   string
	path string
}

// Fetch lists the tree breadth-first, then downloads matching files
// concurrently. Listing failures fail the scan; download failures skip
// the file.
func (f *DriveFolder) Fetch(ctx context.Context) ([]normalizer.Document, error) {
	log := f.drive.logger.WithSource(f.Name())

	entries, err := f.list(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("Found %d JSON files", len(entries))

	docs := make([]*normalizer.Document, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.drive.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			data, err := f.drive.download(gctx, entry.path, entry.id)
			if err != nil {
				if cerrors.IsKind(err, cerrors.Cancelled) {
					return err
				}
				log.WithError(err).Warnf("Skipping %s", entry.path)
				return nil
			}
			docs[i] = &normalizer.Document{Label: entry.path, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]normalizer.Document, 0, len(docs))
	for _, doc := range docs {
		if doc != nil {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (f *DriveFolder) list(ctx context.Context) ([]driveEntry, error) {
	var threshold time.Time
	if f.ModifiedSince > 0 {
		threshold = f.now().Add(-f.ModifiedSince)
	}

	var (
		entries []driveEntry
		queue   = []driveEntry{{id: f.ID, path: ""}}
		visited = map[string]bool{f.ID: true}
	)
	for len(queue) > 0 {
		folder := queue[0]
		queue = queue[1:]

		files, err := f.drive.children(ctx, f.Name(), folder.id)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			p := path.Join(folder.path, file.Name)
			switch {
			case file.MimeType == folderMimeType:
				if !visited[file.Id] {
					visited[file.Id] = true
					queue = append(queue, driveEntry{id: file.Id, path: p})
				}
			case isJSONName(file.Name) || file.MimeType == jsonMimeType:
				if !threshold.IsZero() && modifiedBefore(file.ModifiedTime, threshold) {
					continue
				}
				entries = append(entries, driveEntry{id: file.Id, path: p})
			}
		}
	}
	return entries, nil
}

// modifiedBefore reports whether an RFC 3339 timestamp is older than t.
// Unparseable timestamps are kept.
func modifiedBefore(stamp string, t time.Time) bool {
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return false
	}
	return ts.Before(t)
}
