package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/nebulon/internal/linkverify"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, uint64(10_000_000), cfg.Policy.FeeBase)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nebulon.yaml")
	data := `
server:
  listen: 127.0.0.1:9000
  cors_origins: ["https://nebulon.example"]
storage:
  backend: badger
  data_dir: /var/lib/nebulon
policy:
  reward_amount: 2500
  claim_cooldown: 12h
workers:
  tier_interval: 30m
link_verify:
  hosts:
    moltx: [moltx.example]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, []string{"https://nebulon.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/nebulon/badger", cfg.Storage.BadgerDir())
	assert.Equal(t, uint64(2500), cfg.Policy.RewardAmount)
	assert.Equal(t, 12*time.Hour, cfg.Policy.ClaimCooldown)
	assert.Equal(t, 30*time.Minute, cfg.Workers.TierInterval)

	// Unset fields keep their defaults.
	assert.Equal(t, uint64(100), cfg.Policy.RecommendFee)
	assert.Equal(t, []string{"moltbook", "moltx"}, cfg.Policy.Platforms)
	assert.Equal(t, 5*time.Minute, cfg.Workers.AuditInterval)

	hosts := cfg.PlatformHosts()
	assert.Equal(t, []string{"moltx.example"}, hosts["moltx"])
	assert.Equal(t, []string{"moltbook.com"}, hosts["moltbook"])
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEBULON_LISTEN", ":7000")
	t.Setenv("NEBULON_DATA_DIR", "/tmp/neb")
	t.Setenv("NEBULON_BACKEND", "BADGER")
	t.Setenv("NEBULON_ADMIN_SECRET", "s3cret")
	t.Setenv("NEBULON_AUTHORITY_KEY", "/etc/nebulon/authority.key")
	t.Setenv("NEBULON_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "/tmp/neb", cfg.Storage.DataDir)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "s3cret", cfg.Server.AdminSecret)
	assert.Equal(t, "/etc/nebulon/authority.key", cfg.Authority.KeyFile)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen", func(c *Config) { c.Server.Listen = "" }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"no data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"negative interval", func(c *Config) { c.Workers.TierInterval = -time.Second }},
		{"hosts for unknown platform", func(c *Config) { c.LinkVerify.Hosts = map[string][]string{"myspace": nil} }},
		{"bad policy", func(c *Config) { c.Policy.AdminLimit = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "nebulon.yaml")
	cfg := DefaultConfig()
	cfg.Policy.MintSuffix = "beef"
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Policy, got.Policy)
	assert.Equal(t, cfg.Workers, got.Workers)
}

func TestDefaultLinkHostsRestrictFetches(t *testing.T) {
	cfg := DefaultConfig()
	hosts := cfg.PlatformHosts()
	for _, p := range cfg.Policy.Platforms {
		assert.NotEmpty(t, hosts[p], "platform %s has no allowed hosts", p)
	}

	v := linkverify.New(linkverify.Config{Platforms: hosts}, nil, nil)
	for _, u := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://127.0.0.1:8080/api/registry",
		"https://attacker.example/agentx/post/1",
	} {
		err := v.Verify(context.Background(), "moltbook", "@agent", "@agentx", u)
		assert.ErrorIs(t, err, linkverify.ErrInvalidURL, u)
	}
}
