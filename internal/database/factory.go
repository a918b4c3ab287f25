package database

import (
	"fmt"
	"os"
	"path/filepath"

	"snapback/internal/config"
)

// FileName is the history database file inside data_dir.
const FileName = "snapback.db"

// NewDatabaseFromConfig opens the history database described by cfg.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, FileName))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
