package main

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/engine"
)

// fileConfig is the YAML configuration for the taskmill server. Durations
// are Go duration strings ("1s", "10m", "168h").
type fileConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"logLevel"`

	Storage struct {
		Driver string `yaml:"driver"` // "sqlite" or "file"
		Path   string `yaml:"path"`   // database file or data directory
	} `yaml:"storage"`

	Engine struct {
		ProcessInterval    duration      `yaml:"processInterval"`
		MaxConcurrentTasks int           `yaml:"maxConcurrentTasks"`
		DefaultMaxRetries  int           `yaml:"defaultMaxRetries"`
		DefaultRetryDelay  duration      `yaml:"defaultRetryDelay"`
		DefaultPriority    core.Priority `yaml:"defaultPriority"`
		StaleTaskTimeout   duration      `yaml:"staleTaskTimeout"`
		UnsafeTypePrefixes []string      `yaml:"unsafeTypePrefixes"`
		Retention          duration      `yaml:"retention"`
		CleanupInterval    duration      `yaml:"cleanupInterval"`
	} `yaml:"engine"`
}

// duration parses YAML duration strings into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

func defaultConfig() fileConfig {
	var cfg fileConfig
	cfg.Listen = ":8080"
	cfg.LogLevel = "info"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = "taskmill.db"
	return cfg
}

// loadConfig reads the YAML file at path over the built-in defaults. An
// empty path returns the defaults untouched.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	switch cfg.Storage.Driver {
	case "sqlite", "file":
	default:
		return cfg, fmt.Errorf("unknown storage driver %q (want sqlite or file)", cfg.Storage.Driver)
	}
	return cfg, nil
}

func (c fileConfig) engineConfig() engine.Config {
	return engine.Config{
		ProcessInterval:    time.Duration(c.Engine.ProcessInterval),
		MaxConcurrentTasks: c.Engine.MaxConcurrentTasks,
		DefaultMaxRetries:  c.Engine.DefaultMaxRetries,
		DefaultRetryDelay:  time.Duration(c.Engine.DefaultRetryDelay),
		DefaultPriority:    c.Engine.DefaultPriority,
		StaleTaskTimeout:   time.Duration(c.Engine.StaleTaskTimeout),
		UnsafeTypePrefixes: c.Engine.UnsafeTypePrefixes,
		Retention:          time.Duration(c.Engine.Retention),
		CleanupInterval:    time.Duration(c.Engine.CleanupInterval),
	}
}
