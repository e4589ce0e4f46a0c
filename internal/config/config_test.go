package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mars-colony/internal/simerr"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20*time.Second, cfg.SaveTimeout())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.yaml")
	raw := `
seed: 7
tick_millisols: 2.5
ledger_retention_sols: 30
log_level: debug
settlements:
  - name: Jezero Base
    people: 3
    robots: 1
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	t.Setenv("COLONYSIM_ADMIN_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 2.5, cfg.TickMillisols)
	assert.Equal(t, uint64(30), cfg.LedgerRetentionSols)
	assert.Equal(t, 20, cfg.SaveTimeoutSeconds, "unset fields keep defaults")
	assert.Equal(t, "secret", cfg.AdminKey)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	require.Len(t, cfg.Settlements, 1)
	assert.Equal(t, "Jezero Base", cfg.Settlements[0].Name)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.TickMillisols = 0 }},
		{"negative tick", func(c *Config) { c.TickMillisols = -1 }},
		{"zero interval", func(c *Config) { c.TickIntervalMs = 0 }},
		{"negative speed", func(c *Config) { c.Speed = -2 }},
		{"no save path", func(c *Config) { c.SavePath = "" }},
		{"no save timeout", func(c *Config) { c.SaveTimeoutSeconds = 0 }},
		{"unnamed settlement", func(c *Config) { c.Settlements = []SettlementConfig{{People: 1}} }},
		{"duplicate settlement", func(c *Config) {
			c.Settlements = []SettlementConfig{{Name: "A"}, {Name: "A"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), simerr.ErrInvalidArgument)
		})
	}
}

func TestSavePathsResolveAgainstDataDir(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("data", "colony.db"), cfg.SaveFile())
	assert.Equal(t, "data", cfg.SaveDir())

	cfg.DataDir = "/var/lib/colony"
	cfg.SavePath = "mission.snap"
	assert.Equal(t, "/var/lib/colony/mission.snap", cfg.SaveFile())
	assert.Equal(t, "/var/lib/colony", cfg.SaveDir())

	cfg.SavePath = "/backups/colony.db"
	assert.Equal(t, "/backups/colony.db", cfg.SaveFile(), "absolute paths are kept")

	cfg.DataDir = ""
	assert.Equal(t, "/backups", cfg.SaveDir())
}

func TestLoadReadsTrustedProxies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /srv/colony\ntrusted_proxies: [10.0.0.1, 10.0.0.2]\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.TrustedProxies)
	assert.Equal(t, "/srv/colony/colony.db", cfg.SaveFile())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
