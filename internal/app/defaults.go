package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"snapback/internal/config"
)

// DefaultVolume is the backup volume used when neither the config file nor
// BACKUP_VOL names one.
const DefaultVolume = "/var/backup"

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SNAPBACK_CONFIG_PATH: config file location (default: ~/.config/snapback.toml)
//   - SNAPBACK_HOME: base directory for snapback data (default: ~/.local/share/snapback)
//   - BACKUP_VOL: backup volume (default: /var/backup)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	volume := os.Getenv("BACKUP_VOL")
	if volume == "" {
		volume = DefaultVolume
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"volume":      volume,
	}, nil
}

// getConfigPath returns the config file path, checking SNAPBACK_CONFIG_PATH env var first,
// then falling back to the default ~/.config/snapback.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("SNAPBACK_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "snapback.toml"), nil
}

// getBaseDir returns the base directory for snapback data, checking SNAPBACK_HOME env var first,
// then falling back to the XDG default ~/.local/share/snapback.
func getBaseDir() (string, error) {
	if path := os.Getenv("SNAPBACK_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "snapback"), nil
}

// LoadConfig reads the config file named by defaults over the built-in
// defaults. A missing config file is not an error.
func LoadConfig(defaults map[string]string) (*config.Config, error) {
	base := config.NewConfig(defaults["base_dir"], defaults["volume"])

	cfg := base
	if _, err := os.Stat(defaults["config_path"]); err == nil {
		cfg, err = config.ReadFromFile(defaults["config_path"], base)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
