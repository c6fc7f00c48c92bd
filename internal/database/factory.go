package database

import (
	"fmt"
	"os"
	"path/filepath"

	"leakwatch/internal/config"
)

// NewStoreFromConfig creates an event store based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, hostID+".db"), nil)
	case "memory":
		return NewSQLiteStore(":memory:", nil)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
