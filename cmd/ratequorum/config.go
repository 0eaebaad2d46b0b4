package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"RateQuorum/internal/logger"
	"RateQuorum/internal/permission"
)

// envPrefix is the prefix of environment variables read by viper.
const envPrefix = "RATEQUORUM"

// Config holds the CLI configuration.
type Config struct {
	// DataDir is the directory of the pebble database.
	DataDir string

	// Slots is the number of ledger slots, fixed when the ledger is created.
	Slots int

	// Admin is the admin of a newly created ledger. Ignored once the ledger exists.
	Admin permission.Identity

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// newViper creates a viper instance reading RATEQUORUM_* variables.
func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

// readConfigFile merges a YAML, TOML or JSON config file into v.
func readConfigFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s:\n%w", path, err)
	}

	return nil
}

// loadConfig builds a Config from flags, environment and config file.
func loadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir:  v.GetString("data-dir"),
		Slots:    v.GetInt("slots"),
		LogLevel: v.GetString("log-level"),
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.Slots <= 0 {
		return nil, fmt.Errorf("slots must be positive, got %d", cfg.Slots)
	}

	if s := v.GetString("admin"); s != "" {
		admin, err := permission.ParseIdentity(s)
		if err != nil {
			return nil, fmt.Errorf("parse admin:\n%w", err)
		}
		cfg.Admin = admin
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	return cfg, nil
}
