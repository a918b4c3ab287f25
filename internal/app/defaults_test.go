package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("SNAPBACK_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("SNAPBACK_HOME", "/custom/snapback")
		t.Setenv("BACKUP_VOL", "/srv/backup")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/snapback" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/snapback")
		}
		if defaults["log_dir"] != "/custom/snapback/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/snapback/log")
		}
		if defaults["volume"] != "/srv/backup" {
			t.Errorf("volume = %q, want %q", defaults["volume"], "/srv/backup")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("SNAPBACK_CONFIG_PATH", "")
		t.Setenv("SNAPBACK_HOME", "")
		t.Setenv("BACKUP_VOL", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "snapback.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "snapback")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}

		if defaults["volume"] != DefaultVolume {
			t.Errorf("volume = %q, want %q", defaults["volume"], DefaultVolume)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name       string
		file       string // config file contents, "" for no file
		wantErr    bool
		wantVolume string
		wantJobs   int
	}{
		{
			name:       "missing file uses defaults",
			wantVolume: "/srv/backup",
			wantJobs:   1,
		},
		{
			name:       "file overrides defaults",
			file:       "volume = \"/mnt/backup\"\njobs = 4\n",
			wantVolume: "/mnt/backup",
			wantJobs:   4,
		},
		{
			name:       "keys missing from file keep defaults",
			file:       "random = true\n",
			wantVolume: "/srv/backup",
			wantJobs:   1,
		},
		{
			name:    "invalid value",
			file:    "jobs = 0\n",
			wantErr: true,
		},
		{
			name:    "malformed toml",
			file:    "jobs = [\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			defaults := map[string]string{
				"config_path": filepath.Join(dir, "snapback.toml"),
				"base_dir":    dir,
				"volume":      "/srv/backup",
			}
			if tt.file != "" {
				if err := os.WriteFile(defaults["config_path"], []byte(tt.file), 0644); err != nil {
					t.Fatal(err)
				}
			}

			cfg, err := LoadConfig(defaults)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Volume != tt.wantVolume {
				t.Errorf("Volume = %q, want %q", cfg.Volume, tt.wantVolume)
			}
			if cfg.Jobs != tt.wantJobs {
				t.Errorf("Jobs = %d, want %d", cfg.Jobs, tt.wantJobs)
			}
			if cfg.Database.DataDir != filepath.Join(dir, "db") {
				t.Errorf("Database.DataDir = %q", cfg.Database.DataDir)
			}
		})
	}
}
