// Package config loads colony simulation settings from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/mars-colony/internal/simerr"
)

// Config holds every tunable of a colony run.
type Config struct {
	Seed int64 `yaml:"seed"`

	// Simulated time per tick, and the real-time pacing of the loop.
	TickMillisols  float64 `yaml:"tick_millisols"`
	TickIntervalMs int     `yaml:"tick_interval_ms"`
	Speed          float64 `yaml:"speed"` // 1.0 = real-time pacing, 0 = paused

	// How many past sols each activity ledger keeps. 0 keeps everything.
	LedgerRetentionSols uint64 `yaml:"ledger_retention_sols"`

	// Named saves land in DataDir; a relative SavePath is resolved against it.
	DataDir            string `yaml:"data_dir"`
	SavePath           string `yaml:"save_path"` // .db = sqlite, .snap = zstd snapshot
	SaveTimeoutSeconds int    `yaml:"save_timeout_seconds"`
	AutosaveEverySols  uint64 `yaml:"autosave_every_sols"`

	APIPort        int      `yaml:"api_port"`
	AdminKey       string   `yaml:"-"` // from COLONYSIM_ADMIN_KEY only
	LogLevel       string   `yaml:"log_level"`
	TrustedProxies []string `yaml:"trusted_proxies"` // peers whose X-Forwarded-For is believed

	Settlements []SettlementConfig `yaml:"settlements"`
}

// SettlementConfig describes one settlement's starting population.
type SettlementConfig struct {
	Name     string             `yaml:"name"`
	People   int                `yaml:"people"`
	Robots   int                `yaml:"robots"`
	Vehicles int                `yaml:"vehicles"`
	Agenda   map[string]float64 `yaml:"agenda"` // task name -> score modifier
}

// Default returns a small two-settlement colony.
func Default() Config {
	return Config{
		Seed:                42,
		TickMillisols:       1.0,
		TickIntervalMs:      100,
		Speed:               1.0,
		LedgerRetentionSols: 0,
		DataDir:             "data",
		SavePath:            "colony.db",
		SaveTimeoutSeconds:  20,
		AutosaveEverySols:   1,
		APIPort:             8080,
		LogLevel:            "info",
		Settlements: []SettlementConfig{
			{Name: "Schiaparelli Point", People: 8, Robots: 3, Vehicles: 2,
				Agenda: map[string]float64{"ResearchScience": 1.5}},
			{Name: "Hellas Outpost", People: 5, Robots: 2, Vehicles: 1,
				Agenda: map[string]float64{"TendGreenhouse": 1.4}},
		},
	}
}

// Load reads a YAML file and overlays it on Default(). Environment overrides
// are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	cfg.AdminKey = os.Getenv("COLONYSIM_ADMIN_KEY")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the core cannot run with.
func (c Config) Validate() error {
	if !(c.TickMillisols > 0) {
		return fmt.Errorf("tick_millisols must be positive, got %v: %w", c.TickMillisols, simerr.ErrInvalidArgument)
	}
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("tick_interval_ms must be positive, got %d: %w", c.TickIntervalMs, simerr.ErrInvalidArgument)
	}
	if c.Speed < 0 {
		return fmt.Errorf("speed must not be negative: %w", simerr.ErrInvalidArgument)
	}
	if c.SavePath == "" {
		return fmt.Errorf("save_path must be set: %w", simerr.ErrInvalidArgument)
	}
	if c.SaveTimeoutSeconds <= 0 {
		return fmt.Errorf("save_timeout_seconds must be positive: %w", simerr.ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(c.Settlements))
	for _, s := range c.Settlements {
		if s.Name == "" {
			return fmt.Errorf("settlement without a name: %w", simerr.ErrInvalidArgument)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate settlement %q: %w", s.Name, simerr.ErrInvalidArgument)
		}
		seen[s.Name] = true
		if s.People < 0 || s.Robots < 0 || s.Vehicles < 0 {
			return fmt.Errorf("settlement %q has a negative population: %w", s.Name, simerr.ErrInvalidArgument)
		}
	}
	return nil
}

// TickInterval is the real-time pacing of one tick at speed 1.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// SaveTimeout is how long a caller waits for a save before reporting failure.
func (c Config) SaveTimeout() time.Duration {
	return time.Duration(c.SaveTimeoutSeconds) * time.Second
}

// SaveFile is the save path with a relative SavePath resolved against DataDir.
func (c Config) SaveFile() string {
	if c.SavePath == "" || filepath.IsAbs(c.SavePath) || c.DataDir == "" {
		return c.SavePath
	}
	return filepath.Join(c.DataDir, c.SavePath)
}

// SaveDir is where named saves requested over the API are written.
func (c Config) SaveDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Dir(c.SaveFile())
}

// SlogLevel maps log_level to a slog level; unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
