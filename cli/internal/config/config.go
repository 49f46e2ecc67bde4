package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hpcops/amiereport/internal/charging"
	"github.com/hpcops/amiereport/internal/usage"
)

// Config holds the CLI configuration
type Config struct {
	Resource  string                   `yaml:"resource"`
	Source    string                   `yaml:"source"`
	SpoolPath string                   `yaml:"spool_path,omitempty"`
	ChunkSize int                      `yaml:"chunk_size,omitempty"`
	Rates     map[string]charging.Rate `yaml:"rates,omitempty"`
}

// configPath returns the path to the config file
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".amiereport.yaml"), nil
}

// Load loads the configuration from disk
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to disk
func Save(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// SpoolPathOrDefault returns the configured spool database path or the
// default under the user's home directory.
func (c *Config) SpoolPathOrDefault() (string, error) {
	if c.SpoolPath != "" {
		return c.SpoolPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".amiereport", "spool.db"), nil
}

// ChunkSizeOrDefault returns the configured chunk size or the package
// default.
func (c *Config) ChunkSizeOrDefault() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return usage.DefaultChunkSize
}
