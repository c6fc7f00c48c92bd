package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for leakwatch.
type Config struct {
	HostID   string         `toml:"host_id"`
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Rules    RulesConfig    `toml:"rules"`
	Database DatabaseConfig `toml:"database"`
	Archive  ArchiveConfig  `toml:"archive"`
	API      APIConfig      `toml:"api"`
	Notify   NotifyConfig   `toml:"notify"`
}

// MonitorConfig selects what is watched and how files are fingerprinted.
type MonitorConfig struct {
	Paths         []string `toml:"paths"`
	Recursive     bool     `toml:"recursive"`
	HashAlgorithm string   `toml:"hash_algorithm"` // "sha256" (default), "sha512", "sha1", "md5", "blake2b-256"
	Ignore        []string `toml:"ignore"`
	Fingerprints  bool     `toml:"fingerprints"`
}

// RulesConfig holds the suspicion thresholds. A zero threshold or an empty
// off-hours band disables that rule; the sensitive-filename rule is always on.
type RulesConfig struct {
	BulkCopyThreshold                 int    `toml:"bulk_copy_threshold"`
	BulkCopyWindowMinutes             int    `toml:"bulk_copy_window_minutes"`
	FrequentModificationThreshold     int    `toml:"frequent_modification_threshold"`
	FrequentModificationWindowMinutes int    `toml:"frequent_modification_window_minutes"`
	OffHoursStart                     string `toml:"off_hours_start"` // "HH:MM", local time; empty disables the rule
	OffHoursEnd                       string `toml:"off_hours_end"`
	Masquerade                        bool   `toml:"masquerade"`
}

// DatabaseConfig represents configuration for the event store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ArchiveConfig represents the destination for evidence snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"; empty disables archiving

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`          // for S3-compatible stores
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`     // falls back to the default AWS chain
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"` // when both are empty
}

// APIConfig controls the read-only HTTP query API.
type APIConfig struct {
	Listen     string  `toml:"listen"`
	RateLimit  float64 `toml:"rate_limit"` // requests per second per client
	Burst      int     `toml:"burst"`
	TrustProxy bool    `toml:"trust_proxy"` // take the client address from X-Forwarded-For / X-Real-IP
}

// NotifyConfig lists alert destinations.
type NotifyConfig struct {
	Webhook    string `toml:"webhook,omitempty"`
	AllowLocal bool   `toml:"allow_local,omitempty"` // permit a webhook on a loopback relay
}

// NewConfig creates a Config with the provided values and working defaults.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Monitor: MonitorConfig{
			Recursive:     true,
			HashAlgorithm: "sha256",
			Fingerprints:  true,
		},
		Rules: RulesConfig{
			BulkCopyThreshold:                 5,
			BulkCopyWindowMinutes:             10,
			FrequentModificationThreshold:     5,
			FrequentModificationWindowMinutes: 15,
			Masquerade:                        true,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "archive"),
		},
		API: APIConfig{
			Listen:    "127.0.0.1:8470",
			RateLimit: 10,
			Burst:     20,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry archive credentials.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path, refusing to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("host_id is required")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log_dir is required")
	}
	if c.Rules.BulkCopyThreshold < 0 || c.Rules.FrequentModificationThreshold < 0 {
		return fmt.Errorf("rule thresholds must not be negative")
	}
	if c.Rules.BulkCopyWindowMinutes < 0 || c.Rules.FrequentModificationWindowMinutes < 0 {
		return fmt.Errorf("rule windows must not be negative")
	}
	return nil
}
