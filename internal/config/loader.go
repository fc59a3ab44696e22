// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with precedence ENV > file > defaults.
type Loader struct {
	path    string
	version string
}

// NewLoader creates a loader. path may be empty, in which case only defaults
// and environment variables apply.
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load builds the effective configuration and validates it.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.path != "" {
		fileCfg, err := loadFile(l.path, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	cfg = applyEnv(cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile overlays YAML file contents onto base. A missing file is not an
// error so that a freshly provisioned data dir works out of the box.
func loadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return base, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}
