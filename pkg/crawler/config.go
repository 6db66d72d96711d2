package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/mcp-catalog/internal/auth"
	"github.com/PentesterFlow/mcp-catalog/internal/catalog"
	"github.com/PentesterFlow/mcp-catalog/internal/source"
	"github.com/PentesterFlow/mcp-catalog/internal/state"
)

// Environment variables read by ApplyEnv.
const (
	EnvDriveFileIDs      = "DRIVE_FILE_IDS"
	EnvDriveFileID       = "DRIVE_FILE_ID"
	EnvDriveFolderID     = "DRIVE_FOLDER_ID"
	EnvGoogleAPIKey      = "GOOGLE_API_KEY"
	EnvGoogleCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
)

const (
	legacyDriveFileLabel  = "Default"
	defaultCatalogPath    = "mcp_tool_catalog.yml"
	defaultMaxConcurrent  = 10
	defaultProbeTimeout   = 60 * time.Second
	defaultPostProbeDelay = 500 * time.Millisecond
)

// Config holds all crawler configuration.
type Config struct {
	// Catalog file path
	Output string `json:"output" yaml:"output"`

	// Maximum number of servers probed at once
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`

	// Deadline for one probe handshake
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Pause after each probe before its slot is released
	Delay time.Duration `json:"delay" yaml:"delay"`

	// Probes per second against one host, 0 disables
	HostRate float64 `json:"host_rate" yaml:"host_rate"`

	// Merge with the existing catalog instead of regenerating it
	Merge bool `json:"merge" yaml:"merge"`

	// Print the catalog instead of saving it
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// Dry-run output format (yaml or json)
	Format string `json:"format" yaml:"format"`

	// Probe only the first N servers, 0 means all
	Limit int `json:"limit" yaml:"limit"`

	// Persist endpoint URLs in the catalog
	IncludeURL bool `json:"include_url" yaml:"include_url"`

	// Run report path
	Report string `json:"report" yaml:"report"`

	// Terminal progress line
	Progress bool `json:"progress" yaml:"progress"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	Sources SourceConfig  `json:"sources" yaml:"sources"`
	History HistoryConfig `json:"history" yaml:"history"`
	PassKey PassKeyConfig `json:"pass_key" yaml:"pass_key"`
}

// SourceConfig lists where configuration documents come from.
type SourceConfig struct {
	// Local files read as explicit documents
	Files []string `json:"files" yaml:"files"`

	// Local directories scanned for .json documents
	Dirs []string `json:"dirs" yaml:"dirs"`

	// Drive files read as explicit documents
	DriveFiles []source.FileRef `json:"drive_files" yaml:"drive_files"`

	// Drive folder scanned recursively
	DriveFolder string `json:"drive_folder" yaml:"drive_folder"`

	// Skip scanned documents older than this, 0 disables
	ModifiedSince time.Duration `json:"modified_since" yaml:"modified_since"`

	GoogleAPIKey    string `json:"google_api_key" yaml:"google_api_key"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`

	// Drive API base URL override
	DriveEndpoint string `json:"drive_endpoint" yaml:"drive_endpoint"`

	// Drive API calls per second and parallel downloads
	DriveRate        float64 `json:"drive_rate" yaml:"drive_rate"`
	DriveConcurrency int     `json:"drive_concurrency" yaml:"drive_concurrency"`

	// Fail on explicit documents that are not valid JSON
	Strict bool `json:"strict" yaml:"strict"`
}

// HistoryConfig controls the probe history database.
type HistoryConfig struct {
	// bbolt file path, empty disables persistence
	Path string `json:"path" yaml:"path"`

	// Consecutive failures before a server is reported stale
	StaleAfter int `json:"stale_after" yaml:"stale_after"`
}

// PassKeyConfig names the forced header and the variable holding its value.
type PassKeyConfig struct {
	Header   string `json:"header" yaml:"header"`
	Variable string `json:"variable" yaml:"variable"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	drive := source.DefaultDriveConfig()
	return &Config{
		Output:        defaultCatalogPath,
		MaxConcurrent: defaultMaxConcurrent,
		Timeout:       defaultProbeTimeout,
		Delay:         defaultPostProbeDelay,
		Format:        string(catalog.FormatYAML),
		Sources: SourceConfig{
			DriveRate:        drive.RequestsPerSecond,
			DriveConcurrency: drive.Concurrency,
			Strict:           true,
		},
		History: HistoryConfig{
			StaleAfter: state.DefaultStaleAfter,
		},
		PassKey: PassKeyConfig{
			Header:   auth.DefaultPassKeyHeader,
			Variable: auth.DefaultPassKeyVariable,
		},
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML) on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// ApplyEnv fills source settings from environment variables. Set variables
// override file values. DRIVE_FILE_ID is only read when DRIVE_FILE_IDS is
// unset or empty.
func (c *Config) ApplyEnv(lookup auth.Lookup) {
	if lookup == nil {
		lookup = auth.EnvLookup
	}
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	if refs := source.ParseFileRefs(get(EnvDriveFileIDs)); len(refs) > 0 {
		c.Sources.DriveFiles = refs
	} else if id := get(EnvDriveFileID); id != "" {
		c.Sources.DriveFiles = []source.FileRef{{Name: legacyDriveFileLabel, ID: id}}
	}
	if v := get(EnvDriveFolderID); v != "" {
		c.Sources.DriveFolder = v
	}
	if v := get(EnvGoogleAPIKey); v != "" {
		c.Sources.GoogleAPIKey = v
	}
	if v := get(EnvGoogleCredentials); v != "" {
		c.Sources.CredentialsFile = v
	}
}

// HasSources reports whether any configuration source is set.
func (c *Config) HasSources() bool {
	s := c.Sources
	return len(s.Files) > 0 || len(s.Dirs) > 0 || len(s.DriveFiles) > 0 || s.DriveFolder != ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}

	if c.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}

	if c.HostRate < 0 {
		return fmt.Errorf("host rate must not be negative")
	}

	if _, err := catalog.ParseFormat(c.Format); err != nil {
		return err
	}

	if !c.DryRun && c.Output == "" {
		return fmt.Errorf("output path is required")
	}

	if c.Sources.DriveFolder != "" && c.Sources.GoogleAPIKey == "" && c.Sources.CredentialsFile == "" {
		return fmt.Errorf("%s or %s is required when scanning a Drive folder", EnvGoogleAPIKey, EnvGoogleCredentials)
	}

	if c.History.StaleAfter < 0 {
		return fmt.Errorf("stale threshold must not be negative")
	}

	return nil
}
