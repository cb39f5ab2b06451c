package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/perchtools/perch/logging"
	"github.com/perchtools/perch/pkg/paths"
	"gopkg.in/yaml.v3"
)

// configFileNames is the search order within the config directory.
var configFileNames = []string{"perch.yml", "perch.yaml", "perch.toml"}

var (
	loadOnce   sync.Once
	loadedCfg  *Config
	loadedErr  error
	loadedPath string
)

func init() {
	// Feed the logging package without creating an import cycle.
	logging.SetConfigSource(func() logging.Config {
		cfg, err := LoadDefault()
		if err != nil {
			return logging.Config{}
		}
		return cfg.Logging
	})
}

// FindConfigFile returns the path of the first config file found in the
// perch config directory. os.ErrNotExist when none exists.
func FindConfigFile() (string, error) {
	dir := paths.ConfigDir()
	if dir == "" {
		return "", os.ErrNotExist
	}
	for _, name := range configFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", os.ErrNotExist
}

// Load reads and parses the config file at path. The format is chosen by
// file extension (.toml, otherwise YAML).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if strings.HasSuffix(path, ".toml") {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	}
	return cfg, nil
}

// LoadDefault loads the config from the standard location, caching the
// result for the process lifetime. A missing file is not an error: the
// returned config falls back to a single local node.
func LoadDefault() (*Config, error) {
	loadOnce.Do(func() {
		path, err := FindConfigFile()
		if err != nil {
			loadedCfg = &Config{}
			return
		}
		loadedPath = path
		loadedCfg, loadedErr = Load(path)
	})
	return loadedCfg, loadedErr
}

// LoadedPath returns the path the default config was loaded from, or empty
// when running on built-in defaults.
func LoadedPath() string {
	_, _ = LoadDefault()
	return loadedPath
}
