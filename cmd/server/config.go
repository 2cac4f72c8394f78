package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Port            string `yaml:"port"`
	BackendURL      string `yaml:"backendURL"`
	NumSources      int    `yaml:"numSources"`
	PersistChats    bool   `yaml:"persistChats"`
	RefreshInterval string `yaml:"refreshInterval"`
	LogLevel        string `yaml:"logLevel"`
}

const defaultRefreshInterval = 10 * time.Minute

// loadConfig reads the YAML config at path. A missing file is not an error;
// defaults and environment fallbacks fill the gaps.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg.withDefaults()
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	return cfg.withDefaults()
}

func (c config) withDefaults() (config, error) {
	if c.Port == "" {
		c.Port = os.Getenv("PORT")
	}
	if c.Port == "" {
		c.Port = "8080"
	}

	if c.BackendURL == "" {
		c.BackendURL = os.Getenv("NEWSWEBUI_BACKEND_URL")
	}
	if c.BackendURL == "" {
		return config{}, fmt.Errorf("backendURL is required (config file or NEWSWEBUI_BACKEND_URL)")
	}

	if c.NumSources == 0 {
		c.NumSources = 3
	}
	if c.NumSources < 1 || c.NumSources > 10 {
		return config{}, fmt.Errorf("numSources must be between 1 and 10, got %d", c.NumSources)
	}

	return c, nil
}

func (c config) refreshInterval() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return defaultRefreshInterval, nil
	}
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid refreshInterval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("refreshInterval must be positive, got %s", d)
	}
	return d, nil
}

func (c config) slogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
