package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"leakwatch/internal/config"
)

const (
	envConfigPath = "LEAKWATCH_CONFIG_PATH"
	envHome       = "LEAKWATCH_HOME"
)

// Defaults are the filesystem locations used when the config does not say otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves default paths, checking environment variables first:
//   - LEAKWATCH_CONFIG_PATH: config file location (default: ~/.config/leakwatch.toml)
//   - LEAKWATCH_HOME: base directory for leakwatch data (default: ~/.local/share/leakwatch)
func GetDefaults() (*Defaults, error) {
	configPath := os.Getenv(envConfigPath)
	baseDir := os.Getenv(envHome)

	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "leakwatch.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "leakwatch")
		}
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// NewDefaultConfig returns a config for a fresh install with a random host id.
func (d *Defaults) NewDefaultConfig() *config.Config {
	return config.NewConfig(uuid.NewString(), d.BaseDir)
}

// Map lists the defaults by their config key, for display.
func (d *Defaults) Map() map[string]string {
	return map[string]string{
		"config_path": d.ConfigPath,
		"base_dir":    d.BaseDir,
		"log_dir":     d.LogDir,
	}
}
