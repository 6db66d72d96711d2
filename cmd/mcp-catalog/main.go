package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/mcp-catalog/internal/auth"
	cerrors "github.com/PentesterFlow/mcp-catalog/internal/errors"
	"github.com/PentesterFlow/mcp-catalog/internal/logger"
	"github.com/PentesterFlow/mcp-catalog/internal/normalizer"
	"github.com/PentesterFlow/mcp-catalog/internal/progress"
	"github.com/PentesterFlow/mcp-catalog/internal/shutdown"
	"github.com/PentesterFlow/mcp-catalog/internal/source"
	"github.com/PentesterFlow/mcp-catalog/internal/state"
	"github.com/PentesterFlow/mcp-catalog/pkg/crawler"
)

// exitInterrupted is the exit code after SIGINT/SIGTERM.
const exitInterrupted = 130

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	envFile    string

	// Crawl flags
	outputFile    string
	maxConcurrent int
	timeout       time.Duration
	delay         time.Duration
	hostRate      float64
	merge         bool
	dryRun        bool
	format        string
	limit         int
	includeURL    bool
	sourceFiles   []string
	scanDirs      []string
	modifiedSince time.Duration
	historyPath   string
	staleAfter    int
	reportFile    string
	showProgress  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcp-catalog",
		Short: "MCP tool catalog crawler",
		Long: `mcp-catalog - Builds a catalog of the tools offered by MCP servers.

Reads server definitions from local files and Google Drive, probes every server
with the MCP initialize and tools/list handshake, and writes the results to a
YAML catalog. With --merge, servers that are down keep their previous entry.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCrawl,
	}

	crawlCmd := &cobra.Command{
		Use:   "crawl",
		Short: "Probe every configured server and write the catalog",
		Args:  cobra.NoArgs,
		RunE:  runCrawl,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the probe history",
		Long:  "Print the per-server probe history recorded by previous runs as YAML.",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	validateCmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate config documents without probing",
		Long:  "Normalize local config documents in strict mode and print the servers they define.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading variables")

	addCrawlFlags(rootCmd)
	addCrawlFlags(crawlCmd)

	historyCmd.Flags().StringVar(&historyPath, "history", "", "Probe history database")
	historyCmd.MarkFlagRequired("history")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func addCrawlFlags(cmd *cobra.Command) {
	defaults := crawler.DefaultConfig()
	flags := cmd.Flags()

	flags.StringVarP(&outputFile, "output", "o", defaults.Output, "Catalog file")
	flags.IntVarP(&maxConcurrent, "max-concurrent", "c", defaults.MaxConcurrent, "Maximum servers probed at once")
	flags.DurationVarP(&timeout, "timeout", "t", defaults.Timeout, "Deadline for one probe")
	flags.DurationVarP(&delay, "delay", "d", defaults.Delay, "Pause after each probe before its slot is reused")
	flags.Float64Var(&hostRate, "host-rate", defaults.HostRate, "Probes per second against one host (0 disables)")
	flags.BoolVarP(&merge, "merge", "m", false, "Merge with the existing catalog")
	flags.BoolVar(&dryRun, "dry-run", false, "Print the catalog instead of saving it")
	flags.StringVar(&format, "format", defaults.Format, "Dry-run output format (yaml, json)")
	flags.IntVarP(&limit, "limit", "l", 0, "Probe only the first N servers")
	flags.BoolVar(&includeURL, "include-url", false, "Store endpoint URLs in the catalog")
	flags.StringSliceVar(&sourceFiles, "source", nil, "Local config file read as an explicit document")
	flags.StringSliceVar(&scanDirs, "scan-dir", nil, "Local directory scanned for .json config documents")
	flags.DurationVar(&modifiedSince, "modified-since", 0, "Skip scanned documents older than this")
	flags.StringVar(&historyPath, "history", "", "Probe history database (empty disables)")
	flags.IntVar(&staleAfter, "stale-after", defaults.History.StaleAfter, "Consecutive failures before a server is reported stale")
	flags.StringVar(&reportFile, "report", "", "Run report file (JSON, or YAML by extension)")
	flags.BoolVar(&showProgress, "progress", false, "Show a progress line")
}

// logLevel maps the verbose setting to a log level.
func logLevel(debug bool) logger.Level {
	if debug {
		return logger.DebugLevel
	}
	return logger.InfoLevel
}

// newLogger builds the command logger. It starts from the --verbose flag;
// runCrawl raises it once a config file has been read.
func newLogger(debug bool) *logger.Logger {
	return logger.New(logger.Config{
		Level:     logLevel(debug),
		Pretty:    true,
		Output:    os.Stderr,
		Component: "mcp-catalog",
	})
}

// loadEnv reads the env file. A missing file is not an error.
func loadEnv(log *logger.Logger) {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).WithField("path", envFile).Warn("Failed to load environment file")
	}
}

// buildConfig layers the config file, the environment and the flags.
func buildConfig(cmd *cobra.Command) (*crawler.Config, error) {
	config := crawler.DefaultConfig()
	if configFile != "" {
		fileConfig, err := crawler.LoadFromFile(configFile)
		if err != nil {
			return nil, cerrors.New(cerrors.ConfigurationMissing, configFile, "load", "failed to load config file", err)
		}
		config = fileConfig
	}

	config.ApplyEnv(auth.EnvLookup)

	// Override with command-line flags if provided
	flags := cmd.Flags()
	if flags.Changed("output") {
		config.Output = outputFile
	}
	if flags.Changed("max-concurrent") {
		config.MaxConcurrent = maxConcurrent
	}
	if flags.Changed("timeout") {
		config.Timeout = timeout
	}
	if flags.Changed("delay") {
		config.Delay = delay
	}
	if flags.Changed("host-rate") {
		config.HostRate = hostRate
	}
	if flags.Changed("merge") {
		config.Merge = merge
	}
	if flags.Changed("dry-run") {
		config.DryRun = dryRun
	}
	if flags.Changed("format") {
		config.Format = format
	}
	if flags.Changed("limit") {
		config.Limit = limit
	}
	if flags.Changed("include-url") {
		config.IncludeURL = includeURL
	}
	if flags.Changed("source") {
		config.Sources.Files = sourceFiles
	}
	if flags.Changed("scan-dir") {
		config.Sources.Dirs = scanDirs
	}
	if flags.Changed("modified-since") {
		config.Sources.ModifiedSince = modifiedSince
	}
	if flags.Changed("history") {
		config.History.Path = historyPath
	}
	if flags.Changed("stale-after") {
		config.History.StaleAfter = staleAfter
	}
	if flags.Changed("report") {
		config.Report = reportFile
	}
	if flags.Changed("progress") {
		config.Progress = showProgress
	}
	config.Verbose = config.Verbose || verbose

	if !config.HasSources() {
		return nil, cerrors.NewConfigurationMissing(fmt.Sprintf(
			"no configuration source is set; set %s, %s or %s, or pass --source or --scan-dir",
			crawler.EnvDriveFileIDs, crawler.EnvDriveFileID, crawler.EnvDriveFolderID))
	}
	return config, nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	log := newLogger(verbose)
	loadEnv(log)

	config, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	log.SetLevel(logLevel(config.Verbose))

	handler := shutdown.New(context.Background(), shutdown.Config{Logger: log})
	defer handler.Shutdown()

	opts := []crawler.Option{
		crawler.WithConfig(config),
		crawler.WithLogger(log),
	}
	// The progress line and debug logs share stderr
	if config.Progress && !config.Verbose {
		opts = append(opts, crawler.WithProgress(progress.New(os.Stderr)))
	}

	c, err := crawler.New(opts...)
	if err != nil {
		return err
	}
	handler.RegisterFunc("history", c.Close)

	result, err := c.Run(handler.Context())
	if err != nil {
		if handler.Signalled() {
			return cerrors.NewCancelled("crawler", "interrupted")
		}
		return err
	}

	if result.Empty() {
		return nil
	}
	printSummary(os.Stderr, config, result)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := state.NewBoltStore(historyPath)
	if err != nil {
		return cerrors.New(cerrors.ConfigurationMissing, historyPath, "open", "failed to open history", err)
	}
	defer store.Close()

	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "No probe history recorded")
		return nil
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to print history: %w", err)
	}
	return enc.Close()
}

// validatedServer is one line of the validate output.
type validatedServer struct {
	ID         string               `yaml:"id"`
	Candidates []validatedCandidate `yaml:"candidates"`
}

type validatedCandidate struct {
	URL       string   `yaml:"url"`
	Transport string   `yaml:"transport"`
	Source    string   `yaml:"source"`
	Headers   []string `yaml:"headers,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	log := newLogger(verbose)
	loadEnv(log)
	defaults := crawler.DefaultConfig()

	sources := make([]source.Source, 0, len(args))
	for _, path := range args {
		sources = append(sources, &source.LocalFile{Path: path})
	}
	docs, _, err := source.Collect(cmd.Context(), sources, log)
	if err != nil {
		return err
	}

	res, err := normalizer.New(normalizer.Options{
		Strict:          true,
		Lookup:          auth.EnvLookup,
		PassKeyHeader:   defaults.PassKey.Header,
		PassKeyVariable: defaults.PassKey.Variable,
	}, log).Normalize(docs)
	if err != nil {
		return err
	}

	servers := make([]validatedServer, 0, res.Len())
	for _, t := range crawler.Targets(res) {
		s := validatedServer{ID: t.ID}
		for _, ep := range t.Candidates {
			s.Candidates = append(s.Candidates, validatedCandidate{
				URL:       ep.URL,
				Transport: string(ep.Transport),
				Source:    ep.Source,
				Headers:   auth.MaskHeaders(ep.Headers),
			})
		}
		servers = append(servers, s)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(map[string]interface{}{"servers": servers}); err != nil {
		return fmt.Errorf("failed to print servers: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%d servers, %d skipped, %d not applicable, %d conflicts\n",
		res.Len(), res.Skipped, res.NotApplicable, res.Conflicts)
	if len(res.Unresolved) > 0 {
		fmt.Fprintf(os.Stderr, "Unresolved placeholders: %v\n", res.Unresolved)
	}
	return nil
}

func printSummary(w io.Writer, config *crawler.Config, result *crawler.RunResult) {
	stats := result.Report.Statistics

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Crawl Summary")
	fmt.Fprintln(w, "-------------")
	fmt.Fprintf(w, "Duration:  %v\n", result.Report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Servers:   %d\n", stats.Servers)
	fmt.Fprintf(w, "Online:    %d\n", stats.Online)
	fmt.Fprintf(w, "Offline:   %d\n", stats.Offline)
	fmt.Fprintf(w, "Errors:    %d\n", stats.Errors)
	fmt.Fprintf(w, "Tools:     %d\n", stats.Tools)

	m := result.Merge
	fmt.Fprintf(w, "Inserted:  %d  Updated: %d  Retained: %d  Removed: %d\n",
		len(m.Inserted), len(m.Updated), len(m.Retained), len(m.Removed))
	if len(result.Stale) > 0 {
		fmt.Fprintf(w, "Stale:     %v\n", result.Stale)
	}

	switch {
	case config.DryRun:
		fmt.Fprintln(w, "Catalog:   printed (dry run)")
	case result.Written:
		fmt.Fprintf(w, "Catalog:   %s\n", config.Output)
	default:
		fmt.Fprintf(w, "Catalog:   %s (unchanged)\n", config.Output)
	}
}

func exitCode(err error) int {
	if cerrors.IsKind(err, cerrors.Cancelled) {
		return exitInterrupted
	}
	return 1
}
