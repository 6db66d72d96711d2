package crawler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/PentesterFlow/mcp-catalog/internal/source"
)

func envFrom(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

// =============================================================================
// DefaultConfig Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Output != "mcp_tool_catalog.yml" {
		t.Errorf("Output = %q", cfg.Output)
	}
	if cfg.MaxConcurrent != 10 {
		t.Errorf("MaxConcurrent = %d, want 10", cfg.MaxConcurrent)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Timeout)
	}
	if cfg.Delay != 500*time.Millisecond {
		t.Errorf("Delay = %v, want 500ms", cfg.Delay)
	}
	if !cfg.Sources.Strict {
		t.Error("explicit documents should be strict by default")
	}
	if cfg.PassKey.Header != "KAMUI-CODE-PASS" || cfg.PassKey.Variable != "KAMUI_CODE_PASS_KEY" {
		t.Errorf("PassKey = %+v", cfg.PassKey)
	}
	if cfg.History.StaleAfter != 5 {
		t.Errorf("StaleAfter = %d, want 5", cfg.History.StaleAfter)
	}
	if cfg.HasSources() {
		t.Error("default config should have no sources")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// =============================================================================
// LoadFromFile Tests
// =============================================================================

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "crawler.yml", `
output: out/catalog.yml
max_concurrent: 25
timeout: 15s
delay: 250ms
merge: true
sources:
  files: [a.json, b.json]
  drive_files:
    - name: Team
      id: abc123
  strict: false
history:
  path: history.db
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Output != "out/catalog.yml" || cfg.MaxConcurrent != 25 || !cfg.Merge {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Timeout != 15*time.Second || cfg.Delay != 250*time.Millisecond {
		t.Errorf("Timeout = %v, Delay = %v", cfg.Timeout, cfg.Delay)
	}
	if len(cfg.Sources.Files) != 2 || cfg.Sources.Strict {
		t.Errorf("Sources = %+v", cfg.Sources)
	}
	if want := (source.FileRef{Name: "Team", ID: "abc123"}); len(cfg.Sources.DriveFiles) != 1 || cfg.Sources.DriveFiles[0] != want {
		t.Errorf("DriveFiles = %+v", cfg.Sources.DriveFiles)
	}
	// Unset keys keep their defaults
	if cfg.History.StaleAfter != 5 || cfg.Sources.DriveConcurrency != 4 {
		t.Errorf("defaults lost: StaleAfter = %d, DriveConcurrency = %d", cfg.History.StaleAfter, cfg.Sources.DriveConcurrency)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "crawler.json", `{"output": "c.yml", "limit": 3, "include_url": true}`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Output != "c.yml" || cfg.Limit != 3 || !cfg.IncludeURL {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("LoadFromFile() should fail on a missing file")
	}

	path := writeConfig(t, dir, "broken.yml", "output: [unterminated")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() should fail on unparsable content")
	}
}

// =============================================================================
// ApplyEnv Tests
// =============================================================================

func TestConfig_ApplyEnv(t *testing.T) {
	tests := []struct {
		name      string
		vars      map[string]string
		wantFiles []source.FileRef
		wantDir   string
	}{
		{
			name:      "json list",
			vars:      map[string]string{EnvDriveFileIDs: `[{"name":"Main","id":"m1"},{"name":"Extra","id":"e2"}]`},
			wantFiles: []source.FileRef{{Name: "Main", ID: "m1"}, {Name: "Extra", ID: "e2"}},
		},
		{
			name:      "comma separated",
			vars:      map[string]string{EnvDriveFileIDs: "a, b"},
			wantFiles: []source.FileRef{{Name: "Source_1", ID: "a"}, {Name: "Source_2", ID: "b"}},
		},
		{
			name:      "legacy single id",
			vars:      map[string]string{EnvDriveFileID: "legacy"},
			wantFiles: []source.FileRef{{Name: "Default", ID: "legacy"}},
		},
		{
			name:      "list wins over legacy id",
			vars:      map[string]string{EnvDriveFileIDs: "x", EnvDriveFileID: "legacy"},
			wantFiles: []source.FileRef{{Name: "Source_1", ID: "x"}},
		},
		{
			name:    "folder",
			vars:    map[string]string{EnvDriveFolderID: " folder9 ", EnvGoogleAPIKey: "key"},
			wantDir: "folder9",
		},
		{
			name: "nothing set",
			vars: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ApplyEnv(envFrom(tt.vars))

			if len(cfg.Sources.DriveFiles) != len(tt.wantFiles) {
				t.Fatalf("DriveFiles = %+v, want %+v", cfg.Sources.DriveFiles, tt.wantFiles)
			}
			for i := range tt.wantFiles {
				if cfg.Sources.DriveFiles[i] != tt.wantFiles[i] {
					t.Errorf("DriveFiles[%d] = %+v, want %+v", i, cfg.Sources.DriveFiles[i], tt.wantFiles[i])
				}
			}
			if cfg.Sources.DriveFolder != tt.wantDir {
				t.Errorf("DriveFolder = %q, want %q", cfg.Sources.DriveFolder, tt.wantDir)
			}
			if want := len(tt.wantFiles) > 0 || tt.wantDir != ""; cfg.HasSources() != want {
				t.Errorf("HasSources() = %v, want %v", cfg.HasSources(), want)
			}
		})
	}
}

func TestConfig_ApplyEnv_KeepsFileValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources.DriveFolder = "from-file"
	cfg.Sources.GoogleAPIKey = "file-key"

	cfg.ApplyEnv(envFrom(map[string]string{EnvGoogleAPIKey: "env-key"}))

	if cfg.Sources.DriveFolder != "from-file" {
		t.Errorf("DriveFolder = %q, unset variable overrode the file", cfg.Sources.DriveFolder)
	}
	if cfg.Sources.GoogleAPIKey != "env-key" {
		t.Errorf("GoogleAPIKey = %q, want env-key", cfg.Sources.GoogleAPIKey)
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"negative delay", func(c *Config) { c.Delay = -time.Second }, true},
		{"zero delay", func(c *Config) { c.Delay = 0 }, false},
		{"negative limit", func(c *Config) { c.Limit = -1 }, true},
		{"negative host rate", func(c *Config) { c.HostRate = -1 }, true},
		{"bad format", func(c *Config) { c.Format = "toml" }, true},
		{"json format", func(c *Config) { c.Format = "json" }, false},
		{"no output", func(c *Config) { c.Output = "" }, true},
		{"dry run without output", func(c *Config) { c.Output = ""; c.DryRun = true }, false},
		{"folder without credentials", func(c *Config) { c.Sources.DriveFolder = "f" }, true},
		{"folder with api key", func(c *Config) { c.Sources.DriveFolder = "f"; c.Sources.GoogleAPIKey = "k" }, false},
		{"folder with credentials file", func(c *Config) { c.Sources.DriveFolder = "f"; c.Sources.CredentialsFile = "sa.json" }, false},
		{"negative stale threshold", func(c *Config) { c.History.StaleAfter = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
