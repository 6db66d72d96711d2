package crawler

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/PentesterFlow/mcp-catalog/internal/auth"
	"github.com/PentesterFlow/mcp-catalog/internal/catalog"
	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/metrics"
	"github.com/PentesterFlow/mcp-catalog/internal/normalizer"
	"github.com/PentesterFlow/mcp-catalog/internal/output"
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
	"github.com/PentesterFlow/mcp-catalog/internal/progress"
	"github.com/PentesterFlow/mcp-catalog/internal/source"
	"github.com/PentesterFlow/mcp-catalog/internal/state"
)

// cancelledMessage is the error of targets that never got a slot.
const cancelledMessage = "crawl cancelled"

// Crawler is the main crawler orchestrator.
type Crawler struct {
	config   *Config
	prober   probe.Prober
	sources  []source.Source
	store    state.Store
	history  *state.Manager
	lookup   auth.Lookup
	logger   *logger.Logger
	metrics  *metrics.Collector
	progress *progress.Display
	stdout   io.Writer
	now      func() time.Time

	running atomic.Bool
}

// New creates a new crawler with the given options.
func New(opts ...Option) (*Crawler, error) {
	c := &Crawler{
		config: DefaultConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Validate config
	if err := c.config.Validate(); err != nil {
		return nil, cerrors.New(cerrors.ConfigurationMissing, "config", "validate", "invalid configuration", err)
	}

	c.logger = logger.OrNop(c.logger).WithComponent("crawler")
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.prober == nil {
		cfg := probe.DefaultConfig()
		cfg.Timeout = c.config.Timeout
		cfg.HostRate = c.config.HostRate
		c.prober = probe.NewEngine(cfg, nil, c.logger)
	}

	if c.store == nil && c.config.History.Path != "" {
		store, err := state.NewBoltStore(c.config.History.Path)
		if err != nil {
			return nil, cerrors.New(cerrors.ConfigurationMissing, c.config.History.Path, "open", "failed to open history", err)
		}
		c.store = store
	}
	c.history = state.NewManager(c.store, c.config.History.StaleAfter, c.logger)

	return c, nil
}

// Config returns the effective configuration.
func (c *Crawler) Config() *Config {
	return c.config
}

// Metrics returns the metrics collector.
func (c *Crawler) Metrics() *metrics.Collector {
	return c.metrics
}

// History returns the probe history manager.
func (c *Crawler) History() *state.Manager {
	return c.history
}

// Close releases the history store.
func (c *Crawler) Close() error {
	return c.history.Close()
}

// Crawl probes every target with at most MaxConcurrent probes in flight.
// A slot stays taken for the probe plus the configured delay. The result
// holds one outcome per target, in target order.
func (c *Crawler) Crawl(ctx context.Context, targets []Target) []probe.Outcome {
	outcomes := make([]probe.Outcome, len(targets))
	sem := semaphore.NewWeighted(int64(c.config.MaxConcurrent))

	var wg sync.WaitGroup
	for i, t := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(targets); j++ {
				outcomes[j] = c.cancelled(targets[j])
			}
			break
		}

		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			defer sem.Release(1)

			// Acquire may win the race against a cancelled context.
			if ctx.Err() != nil {
				outcomes[i] = c.cancelled(t)
				return
			}
			outcomes[i] = c.probeTarget(ctx, t)
			c.pause(ctx)
		}(i, t)
	}
	wg.Wait()

	return outcomes
}

// probeTarget runs the fallback chain for one target and converts a panic
// into an error outcome.
func (c *Crawler) probeTarget(ctx context.Context, t Target) (out probe.Outcome) {
	start := c.now()
	c.metrics.ProbeStarted()
	if len(t.Candidates) > 1 {
		c.metrics.RecordFallback()
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithEndpoint(t.ID, t.URL()).Errorf("Probe panicked: %v", r)
			out = probe.Outcome{
				ID:        t.ID,
				URL:       t.URL(),
				Status:    probe.StatusError,
				CheckedAt: c.now(),
				Tools:     []probe.Tool{},
				Error:     fmt.Sprint(r),
				Duration:  c.now().Sub(start),
			}
		}
		if out.ID == "" {
			out.ID = t.ID
		}
		c.finish(out)
	}()

	return probe.WithFallback(ctx, c.prober, t.Candidates, c.logger)
}

// cancelled builds the outcome of a target that was never probed.
func (c *Crawler) cancelled(t Target) probe.Outcome {
	out := probe.Outcome{
		ID:        t.ID,
		URL:       t.URL(),
		Status:    probe.StatusError,
		CheckedAt: c.now(),
		Tools:     []probe.Tool{},
		Error:     cancelledMessage,
	}
	if c.progress != nil {
		c.progress.Record(out.Status)
	}
	return out
}

func (c *Crawler) finish(out probe.Outcome) {
	c.metrics.ProbeFinished(out)
	if c.progress != nil {
		c.progress.Record(out.Status)
	}
	c.logger.ProbeEvent(out.ID, string(out.Status), len(out.Tools), out.Duration, out.Error)
}

// pause holds the caller's slot for the configured delay.
func (c *Crawler) pause(ctx context.Context) {
	if c.config.Delay <= 0 {
		return
	}
	timer := time.NewTimer(c.config.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Run fetches the configuration sources, probes every server, reconciles
// the catalog and writes it. A run without servers is not an error and
// leaves the catalog untouched.
func (c *Crawler) Run(ctx context.Context) (*RunResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	startedAt := c.now()
	result := &RunResult{}

	sources, err := c.buildSources(ctx)
	if err != nil {
		return nil, err
	}
	docs, stats, err := source.Collect(ctx, sources, c.logger)
	if err != nil {
		return nil, err
	}

	norm := normalizer.New(normalizer.Options{
		Strict:          c.config.Sources.Strict,
		Lookup:          c.lookup,
		PassKeyHeader:   c.config.PassKey.Header,
		PassKeyVariable: c.config.PassKey.Variable,
	}, c.logger)
	c.logger.WithFields(map[string]interface{}{
		"documents": len(docs),
		"strict":    c.config.Sources.Strict,
		"pass_key":  norm.PassKeyEnabled(),
	}).Debug("Normalizing configuration documents")

	res, err := norm.Normalize(docs)
	if err != nil {
		return nil, err
	}

	c.logger.PhaseEvent("normalize", map[string]int{
		"documents":      res.Documents,
		"servers":        res.Len(),
		"skipped":        res.Skipped,
		"not_applicable": res.NotApplicable,
		"conflicts":      res.Conflicts,
	})

	if res.Len() == 0 {
		c.logger.Warn("No MCP servers found in configuration")
		return result, nil
	}

	if c.config.Limit > 0 && c.config.Limit < res.Len() {
		c.logger.Infof("Limiting crawl to the first %d of %d servers", c.config.Limit, res.Len())
		res.Limit(c.config.Limit)
	}

	targets := Targets(res)
	c.logger.Infof("Probing %d servers with %d concurrent slots", len(targets), c.config.MaxConcurrent)

	if c.progress != nil {
		c.progress.Start(len(targets))
	}
	result.Outcomes = c.Crawl(ctx, targets)
	if c.progress != nil {
		c.progress.Stop()
	}

	if ctx.Err() != nil {
		return result, cerrors.NewCancelled("crawler", "crawl")
	}

	// A dry run leaves no trace, history included.
	if !c.config.DryRun {
		stale, err := c.history.Record(result.Outcomes)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to record probe history")
		}
		for _, rec := range stale {
			result.Stale = append(result.Stale, rec.ID)
		}
	}

	opts := catalog.Options{IncludeURL: c.config.IncludeURL, Now: c.now}
	if c.config.Merge {
		previous, err := catalog.Load(c.config.Output)
		if err != nil {
			c.logger.WithError(err).Warn("Existing catalog is unreadable, generating a new one")
			previous = nil
		}
		if previous != nil && previous.Dropped() > 0 {
			c.logger.Warnf("Dropped %d invalid entries from the existing catalog", previous.Dropped())
		}
		result.Catalog, result.Merge = catalog.Merge(result.Outcomes, previous, opts)
	} else {
		result.Catalog = catalog.Generate(result.Outcomes, opts)
		result.Merge = catalog.Report{Changed: true}
		for _, e := range result.Catalog.Servers {
			result.Merge.Inserted = append(result.Merge.Inserted, e.ID)
		}
	}

	if err := c.write(result); err != nil {
		return result, err
	}

	result.Report = c.report(startedAt, stats, res, result)
	if c.config.Report != "" {
		if err := output.WriteReportFile(c.config.Report, result.Report); err != nil {
			c.logger.WithError(err).Warn("Failed to write run report")
		}
	}
	c.logger.StatsEvent(c.metrics.Snapshot().Summary())

	return result, nil
}

// write prints the catalog for dry runs and saves it otherwise.
func (c *Crawler) write(result *RunResult) error {
	if c.config.DryRun {
		format, err := catalog.ParseFormat(c.config.Format)
		if err != nil {
			return err
		}
		w := output.NewWriter(c.stdout, output.Config{Format: format, Pretty: true})
		if err := w.WriteCatalog(result.Catalog); err != nil {
			return cerrors.NewSerializationFailure("stdout", "write", err)
		}
		return w.Flush()
	}

	written, err := catalog.Save(c.config.Output, result.Catalog)
	if err != nil {
		return err
	}
	result.Written = written

	log := c.logger.WithField("path", c.config.Output)
	if written {
		log.Infof("Catalog saved with %d servers", len(result.Catalog.Servers))
	} else {
		log.Info("Catalog unchanged")
	}
	return nil
}

func (c *Crawler) report(startedAt time.Time, stats source.Stats, res *normalizer.Result, result *RunResult) *output.RunReport {
	completedAt := c.now()
	servers, statistics := output.Summarize(result.Outcomes)
	merge := result.Merge

	r := &output.RunReport{
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		DryRun:      c.config.DryRun,
		Written:     result.Written,
		Sources: output.SourceStats{
			Sources:       stats.Sources,
			Documents:     stats.Documents,
			Explicit:      stats.Explicit,
			Bulk:          stats.Bulk,
			Skipped:       res.Skipped,
			NotApplicable: res.NotApplicable,
			Conflicts:     res.Conflicts,
			Unresolved:    res.Unresolved,
		},
		Statistics: statistics,
		Merge:      &merge,
		Stale:      result.Stale,
		Servers:    servers,
		Metrics:    c.metrics.Snapshot(),
	}
	if !c.config.DryRun {
		r.Output = c.config.Output
	}
	return r
}

// buildSources turns the source configuration into sources, explicit ones
// first. Sources given through WithSources take precedence.
func (c *Crawler) buildSources(ctx context.Context) ([]source.Source, error) {
	if c.sources != nil {
		return c.sources, nil
	}

	cfg := c.config.Sources
	var sources []source.Source

	for _, path := range cfg.Files {
		sources = append(sources, &source.LocalFile{Path: path})
	}

	if len(cfg.DriveFiles) > 0 || cfg.DriveFolder != "" {
		drive, err := source.NewDrive(ctx, source.DriveConfig{
			APIKey:            cfg.GoogleAPIKey,
			CredentialsFile:   cfg.CredentialsFile,
			Endpoint:          cfg.DriveEndpoint,
			RequestsPerSecond: cfg.DriveRate,
			Concurrency:       cfg.DriveConcurrency,
			Retry:             cerrors.DefaultRetryConfig(),
		}, c.logger)
		if err != nil {
			return nil, err
		}
		for _, ref := range cfg.DriveFiles {
			sources = append(sources, drive.File(ref))
		}
		if cfg.DriveFolder != "" {
			sources = append(sources, drive.Folder(cfg.DriveFolder, cfg.ModifiedSince))
		}
	}

	for _, root := range cfg.Dirs {
		sources = append(sources, &source.LocalDir{
			Root:          root,
			ModifiedSince: cfg.ModifiedSince,
			Logger:        c.logger,
		})
	}

	return sources, nil
}
