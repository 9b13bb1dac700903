// Package config loads the daemon configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Authority  AuthorityConfig  `yaml:"authority"`
	Policy     registry.Policy  `yaml:"policy"`
	Workers    WorkersConfig    `yaml:"workers"`
	LinkVerify LinkVerifyConfig `yaml:"link_verify"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `yaml:"rate_limit"`
	RateBurst int `yaml:"rate_burst"`
	// AdminSecret guards operator endpoints. Empty disables them.
	AdminSecret     string        `yaml:"admin_secret"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and locates the ledger backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
}

// SQLitePath is the database file used by the sqlite backend.
func (s StorageConfig) SQLitePath() string {
	return filepath.Join(s.DataDir, "nebulon.db")
}

// BadgerDir is the directory used by the badger backend.
func (s StorageConfig) BadgerDir() string {
	return filepath.Join(s.DataDir, "badger")
}

// AuthorityConfig locates the daemon's own signing key. The daemon acts as an
// admin for tier recalculation and link verification; without a key those
// features are off.
type AuthorityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// WorkersConfig configures background jobs. Zero intervals disable a job.
type WorkersConfig struct {
	TierInterval  time.Duration `yaml:"tier_interval"`
	AuditInterval time.Duration `yaml:"audit_interval"`
}

// LinkVerifyConfig configures external account verification.
type LinkVerifyConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Prefix  string        `yaml:"prefix"`
	// Bonus is the score granted for a verified link.
	Bonus uint64 `yaml:"bonus"`
	// Hosts lists where each platform's posts may be fetched from. A
	// platform without hosts cannot be verified.
	Hosts map[string][]string `yaml:"hosts"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			RateLimit:       120,
			RateBurst:       30,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DataDir: "data",
		},
		Policy: registry.DefaultPolicy(),
		Workers: WorkersConfig{
			TierInterval:  time.Hour,
			AuditInterval: 5 * time.Minute,
		},
		LinkVerify: LinkVerifyConfig{
			Timeout: 10 * time.Second,
			Prefix:  "NEBULON-LINK-",
			Bonus:   5,
			Hosts: map[string][]string{
				"moltbook": {"moltbook.com"},
				"moltx":    {"moltx.io"},
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NEBULON_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("NEBULON_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("NEBULON_BACKEND"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("NEBULON_ADMIN_SECRET"); v != "" {
		c.Server.AdminSecret = v
	}
	if v := os.Getenv("NEBULON_AUTHORITY_KEY"); v != "" {
		c.Authority.KeyFile = v
	}
	if v := os.Getenv("NEBULON_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	switch c.Storage.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("invalid storage backend: %s (valid: %s, %s)", c.Storage.Backend, BackendSQLite, BackendBadger)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Workers.TierInterval < 0 || c.Workers.AuditInterval < 0 {
		return fmt.Errorf("worker intervals must not be negative")
	}
	for platform := range c.LinkVerify.Hosts {
		if !c.Policy.SupportsPlatform(platform) {
			return fmt.Errorf("link_verify.hosts: unknown platform %q", platform)
		}
	}
	return c.Policy.Validate()
}

// PlatformHosts returns the host restriction for every supported platform.
func (c *Config) PlatformHosts() map[string][]string {
	out := make(map[string][]string, len(c.Policy.Platforms))
	for _, p := range c.Policy.Platforms {
		out[p] = c.LinkVerify.Hosts[p]
	}
	return out
}
