package api

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Override adjusts a parsed config before validation, e.g. from command line flags.
type Override func(*Config)

// LoadConfig reads an install config file, applies defaults, then the
// overrides in order, and validates the result.
func LoadConfig(filename string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	cfg.FilePath = absPath

	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", filename, err)
	}

	return cfg, nil
}

// ParseConfig unmarshals YAML and fills in defaults without validating.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills empty fields. The cache directory defaults to the
// user cache directory keyed by product name.
func (c *Config) ApplyDefaults() error {
	if c.Product == "" {
		c.Product = DefaultProduct
	}
	if c.ModName == "" {
		c.ModName = DefaultModName
	}
	if c.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolving user cache directory: %w", err)
		}
		c.CacheDir = filepath.Join(base, c.Product)
	}
	if c.LogExportDir == "" {
		c.LogExportDir = filepath.Join(os.TempDir(), c.Product+"-logs")
	}
	if c.Vars == nil {
		c.Vars = make(map[string]any)
	}
	return nil
}
