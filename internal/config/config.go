package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for snapback.
type Config struct {
	Volume     string           `toml:"volume"`
	User       string           `toml:"user,omitempty"`
	Jobs       int              `toml:"jobs"`
	Random     bool             `toml:"random"`
	LogDir     string           `toml:"log_dir"`
	Rsync      RsyncConfig      `toml:"rsync"`
	SSH        SSHConfig        `toml:"ssh"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Offline    OfflineConfig    `toml:"offline"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// RsyncConfig controls the transfer tool. Empty values use the built-in
// defaults.
type RsyncConfig struct {
	Binary  string   `toml:"binary,omitempty"`
	Args    []string `toml:"args,omitempty"`
	Exclude []string `toml:"exclude,omitempty"`
}

// SSHConfig controls how commands reach the backup clients.
type SSHConfig struct {
	Binary  string   `toml:"binary,omitempty"`
	Options []string `toml:"options,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for offline archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default) or "age"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for an offline archive store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Static credentials; the default AWS credential chain is used when empty.
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// OfflineConfig controls offline archive exports.
type OfflineConfig struct {
	Exclude []string `toml:"exclude,omitempty"` // patterns left out of archives
}

// MetricsConfig enables the node-exporter textfile.
type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path,omitempty"`
}

// NewConfig creates a Config with defaults below baseDir for a backup volume.
func NewConfig(baseDir, volume string) *Config {
	return &Config{
		Volume: volume,
		Jobs:   1,
		LogDir: filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "snapback.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "snapback.key"),
		},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Volume == "" {
		return errors.New("volume is required")
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}
	switch c.Encryption.Type {
	case "", "none", "age":
	default:
		return fmt.Errorf("unknown encryption type: %s", c.Encryption.Type)
	}
	names := make(map[string]bool)
	for _, v := range c.Vaults {
		if v.Name == "" {
			return fmt.Errorf("vault of type %q has no name", v.Type)
		}
		if names[v.Name] {
			return fmt.Errorf("duplicate vault name: %s", v.Name)
		}
		names[v.Name] = true
	}
	return nil
}

// Vault returns the vault named name.
func (c *Config) Vault(name string) (VaultConfig, error) {
	for _, v := range c.Vaults {
		if v.Name == name {
			return v, nil
		}
	}
	return VaultConfig{}, fmt.Errorf("no vault named %q configured", name)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader on top of base, so keys
// missing from the file keep their defaults.
func (m *Manager) Read(r io.Reader, base *Config) (*Config, error) {
	cfg := *base
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

// ReadFromFile reads a Config from the specified file path over base.
func ReadFromFile(path string, base *Config) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, base)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
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

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
