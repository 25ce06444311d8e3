// Package config loads syncctl's YAML configuration file, overlaying it
// onto a set of built-in defaults so a missing or partial file is never
// an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"usersync/pkg/logging"
)

const fileName = "config.yaml"

// Config holds the syncctl defaults a user can override on disk instead
// of passing flags on every invocation.
type Config struct {
	SyncHome  string `yaml:"syncHome"`
	Resource  string `yaml:"resource"`
	RemoteURL string `yaml:"remoteURL"`
}

// Default returns the built-in configuration used when no config.yaml is
// present.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		SyncHome:  filepath.Join(home, ".usersync"),
		Resource:  "settings",
		RemoteURL: "http://localhost:8787/api/v1",
	}
}

// Load reads <dir>/config.yaml, overlaying it onto Default(). A missing
// file is not an error: it just means the defaults apply.
func Load(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "no %s found at %s, using defaults", fileName, path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	logging.Info("Config", "loaded configuration from %s", path)
	return cfg, nil
}
