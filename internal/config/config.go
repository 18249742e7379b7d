// Package config loads ChoreQuest configuration.
//
// Settings come from .chorequest/config.yaml, overridden by CHOREQUEST_*
// environment variables (CHOREQUEST_REMOTE_URL, CHOREQUEST_OWNER_ID, ...).
// The state directory is found by walking up from the working directory,
// so commands work from anywhere inside a family workspace; with no
// workspace, ~/.chorequest is used.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StateDirName is the per-workspace state directory.
const StateDirName = ".chorequest"

// Config is the loaded configuration tree.
type Config struct {
	// OwnerID identifies the family member whose entries this device
	// records.
	OwnerID string `mapstructure:"owner_id"`

	Remote struct {
		// URL is the libSQL URL of the shared store.
		URL string `mapstructure:"url"`
		// AuthToken authenticates against the hosted service.
		AuthToken string `mapstructure:"auth_token"`
	} `mapstructure:"remote"`

	Sync struct {
		Interval    time.Duration `mapstructure:"interval"`
		BatchSize   int           `mapstructure:"batch_size"`
		WorkerLimit int           `mapstructure:"worker_limit"`
	} `mapstructure:"sync"`

	Connectivity struct {
		ProbeAddr     string        `mapstructure:"probe_addr"`
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"connectivity"`

	Dashboard struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"dashboard"`

	Log struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
}

// FindStateDir locates the nearest .chorequest directory at or above the
// working directory. Falls back to ~/.chorequest (created on demand by
// callers, not here).
func FindStateDir() string {
	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, StateDirName)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return StateDirName
	}
	return filepath.Join(home, StateDirName)
}

// Load reads configuration from the given state directory. A missing
// config file is fine; defaults and environment variables still apply.
func Load(stateDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(stateDir)

	v.SetEnvPrefix("chorequest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("owner_id", "")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.auth_token", "")
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.worker_limit", 4)
	v.SetDefault("connectivity.probe_addr", "1.1.1.1:443")
	v.SetDefault("connectivity.probe_interval", "15s")
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// RemoteURL combines the configured URL and auth token into the form the
// libSQL driver expects.
func (c *Config) RemoteURL() string {
	if c.Remote.AuthToken == "" || !strings.HasPrefix(c.Remote.URL, "libsql://") {
		return c.Remote.URL
	}
	sep := "?"
	if strings.Contains(c.Remote.URL, "?") {
		sep = "&"
	}
	return c.Remote.URL + sep + "authToken=" + c.Remote.AuthToken
}

// CachePath returns the local cache database path under stateDir.
func CachePath(stateDir string) string {
	return filepath.Join(stateDir, "cache.db")
}

// OfflineMarkerPath returns the connectivity override marker path.
func OfflineMarkerPath(stateDir string) string {
	return filepath.Join(stateDir, "offline")
}
