package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional per-store configuration file, read from the
// storage root.
const ConfigFileName = "flowledger.yaml"

// Config holds the tunables for one storage root. Everything has a working
// default, so a bare directory is a valid store.
type Config struct {
	// SnapshotEvery persists the materialized snapshot after this many appends.
	// Zero disables periodic snapshots; one snapshots after every append.
	SnapshotEvery int `yaml:"snapshot_every"`
	// AppendTimeout bounds one append, enqueue plus disk write.
	AppendTimeout time.Duration `yaml:"append_timeout"`
	// Fsync forces a sync after every append.
	Fsync bool `yaml:"fsync"`
}

// fileConfig is the raw YAML shape. Durations are strings ("5s", "250ms") and
// absent keys keep their defaults, hence the pointers.
type fileConfig struct {
	SnapshotEvery *int    `yaml:"snapshot_every"`
	AppendTimeout *string `yaml:"append_timeout"`
	Fsync         *bool   `yaml:"fsync"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		SnapshotEvery: 100,
		AppendTimeout: 5 * time.Second,
		Fsync:         false,
	}
}

// Load reads root/flowledger.yaml if present, applies FLOWLEDGER_* env
// overrides on top and validates the result. A missing file is not an error.
func Load(root string) (Config, error) {
	cfg := Default()

	path := filepath.Join(root, ConfigFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if fc.SnapshotEvery != nil {
			cfg.SnapshotEvery = *fc.SnapshotEvery
		}
		if fc.AppendTimeout != nil {
			d, err := time.ParseDuration(*fc.AppendTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s: append_timeout: %w", path, err)
			}
			cfg.AppendTimeout = d
		}
		if fc.Fsync != nil {
			cfg.Fsync = *fc.Fsync
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("FLOWLEDGER_SNAPSHOT_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("FLOWLEDGER_SNAPSHOT_EVERY: %w", err)
		}
		cfg.SnapshotEvery = n
	}
	if v := os.Getenv("FLOWLEDGER_APPEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("FLOWLEDGER_APPEND_TIMEOUT: %w", err)
		}
		cfg.AppendTimeout = d
	}
	if v := os.Getenv("FLOWLEDGER_FSYNC"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("FLOWLEDGER_FSYNC: %w", err)
		}
		cfg.Fsync = b
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot_every must not be negative, got %d", c.SnapshotEvery)
	}
	if c.AppendTimeout <= 0 {
		return fmt.Errorf("append_timeout must be positive, got %s", c.AppendTimeout)
	}
	return nil
}
