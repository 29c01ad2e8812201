package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/dispatch"
	"gopkg.in/yaml.v3"
)

// Duration parses "30m"-style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds serve-time settings
type Config struct {
	DataDir       string   `yaml:"data_dir"`
	ListenAddr    string   `yaml:"listen_addr"`
	Workers       int      `yaml:"workers"`
	ActionTimeout Duration `yaml:"action_timeout"`
}

// LoadConfig reads the YAML config at path, or returns defaults when path
// is empty.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       "/var/lib/burrow",
		ListenAddr:    ":9390",
		Workers:       dispatch.DefaultWorkers,
		ActionTimeout: Duration(1 * time.Hour),
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
