// Package config loads the otv configuration file: default transport timeout
// and named aliases for resource addresses.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "OTV_CONFIG"

// DefaultTimeout applies when the config file sets none.
const DefaultTimeout = 5 * time.Second

// ErrUnknownFormat is returned for config files that are neither YAML nor TOML.
var ErrUnknownFormat = errors.New("config: unknown file format")

// Config is the parsed configuration file.
type Config struct {
	Timeout time.Duration
	Aliases map[string]string
}

// file mirrors the on-disk layout for both formats.
type file struct {
	Timeout string            `yaml:"timeout" toml:"timeout"`
	Aliases map[string]string `yaml:"aliases" toml:"aliases"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{Timeout: DefaultTimeout, Aliases: map[string]string{}}
}

// DefaultPath returns $OTV_CONFIG or <user config dir>/otv/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "otv", "config.yaml")
}

// Load reads path. The format follows the extension: .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var f file
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg := Default()
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", f.Timeout, err)
		}
		cfg.Timeout = d
	}
	for name, addr := range f.Aliases {
		cfg.Aliases[name] = addr
	}
	return cfg, nil
}

// LoadOptional loads path, falling back to Default when the file does not
// exist.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Lookup returns the address behind alias name, or name itself when it is not
// an alias.
func (c *Config) Lookup(name string) string {
	if addr, ok := c.Aliases[name]; ok {
		return addr
	}
	return name
}

// AliasNames returns the alias names in sorted order.
func (c *Config) AliasNames() []string {
	names := make([]string, 0, len(c.Aliases))
	for n := range c.Aliases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
