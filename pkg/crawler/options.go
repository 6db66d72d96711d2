package crawler

import (
	"io"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/auth"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/metrics"
	"github.com/PentesterFlow/mcp-catalog/internal/probe"
	"github.com/PentesterFlow/mcp-catalog/internal/progress"
	"github.com/PentesterFlow/mcp-catalog/internal/source"
	"github.com/PentesterFlow/mcp-catalog/internal/state"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		c.config = config
		return nil
	}
}

// WithMaxConcurrent sets the number of probes in flight.
func WithMaxConcurrent(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			n = 1
		}
		c.config.MaxConcurrent = n
		return nil
	}
}

// WithTimeout sets the per-probe deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Timeout = timeout
		return nil
	}
}

// WithDelay sets the pause held after each probe.
func WithDelay(delay time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Delay = delay
		return nil
	}
}

// WithOutputFile sets the catalog path.
func WithOutputFile(path string) Option {
	return func(c *Crawler) error {
		c.config.Output = path
		return nil
	}
}

// WithMerge enables merging with the existing catalog.
func WithMerge(merge bool) Option {
	return func(c *Crawler) error {
		c.config.Merge = merge
		return nil
	}
}

// WithDryRun prints the catalog to w instead of saving it.
func WithDryRun(w io.Writer) Option {
	return func(c *Crawler) error {
		c.config.DryRun = true
		c.stdout = w
		return nil
	}
}

// WithLimit probes only the first n servers.
func WithLimit(n int) Option {
	return func(c *Crawler) error {
		c.config.Limit = n
		return nil
	}
}

// WithProber replaces the probe engine.
func WithProber(p probe.Prober) Option {
	return func(c *Crawler) error {
		c.prober = p
		return nil
	}
}

// WithSources replaces the configured sources.
func WithSources(sources ...source.Source) Option {
	return func(c *Crawler) error {
		c.sources = sources
		return nil
	}
}

// WithHistory sets the history store.
func WithHistory(store state.Store) Option {
	return func(c *Crawler) error {
		c.store = store
		return nil
	}
}

// WithLookup sets the variable lookup used for placeholders and the
// pass-key.
func WithLookup(lookup auth.Lookup) Option {
	return func(c *Crawler) error {
		c.lookup = lookup
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) error {
		c.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) error {
		c.metrics = m
		return nil
	}
}

// WithProgress enables the progress line.
func WithProgress(d *progress.Display) Option {
	return func(c *Crawler) error {
		c.progress = d
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) error {
		c.now = now
		return nil
	}
}
