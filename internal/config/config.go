// Package config loads sampler and server settings from a YAML file, a .env
// file and RESGRAPH_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jeffypooo/resgraph/internal/metrics"
)

const DefaultPath = "resgraph.yaml"

type Config struct {
	IntervalMs                   int     `yaml:"interval_ms"`
	MaxDiskThroughputBytesPerSec float64 `yaml:"max_disk_throughput_bytes_per_sec"`
	CPUMode                      string  `yaml:"cpu_mode"`
	Listen                       string  `yaml:"listen"`
	LogLevel                     string  `yaml:"log_level"`
	HistoryLimit                 int     `yaml:"history_limit"`
	SubscriberBuffer             int     `yaml:"subscriber_buffer"`
}

func Default() *Config {
	return &Config{
		IntervalMs:                   int(metrics.DefaultInterval / time.Millisecond),
		MaxDiskThroughputBytesPerSec: metrics.DefaultMaxDiskThroughput,
		CPUMode:                      string(metrics.CPUModeCarried),
		Listen:                       ":8080",
		LogLevel:                     "info",
		HistoryLimit:                 3600,
		SubscriberBuffer:             16,
	}
}

// Load reads path (a missing file is not an error), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if raw := os.Getenv("RESGRAPH_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.Wrap(err, "RESGRAPH_INTERVAL")
		}
		c.IntervalMs = int(d / time.Millisecond)
	}
	if raw := os.Getenv("RESGRAPH_MAX_DISK_THROUGHPUT"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.Wrap(err, "RESGRAPH_MAX_DISK_THROUGHPUT")
		}
		c.MaxDiskThroughputBytesPerSec = v
	}
	if raw := os.Getenv("RESGRAPH_HISTORY_LIMIT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return errors.Wrap(err, "RESGRAPH_HISTORY_LIMIT")
		}
		c.HistoryLimit = v
	}
	if raw := os.Getenv("RESGRAPH_CPU_MODE"); raw != "" {
		c.CPUMode = raw
	}
	if raw := os.Getenv("RESGRAPH_LISTEN"); raw != "" {
		c.Listen = raw
	}
	if raw := os.Getenv("RESGRAPH_LOG_LEVEL"); raw != "" {
		c.LogLevel = raw
	}
	return nil
}

func (c *Config) Validate() error {
	if c.IntervalMs <= 0 {
		return fmt.Errorf("interval_ms must be positive, got %d", c.IntervalMs)
	}
	if c.MaxDiskThroughputBytesPerSec <= 0 {
		return fmt.Errorf("max_disk_throughput_bytes_per_sec must be positive, got %v", c.MaxDiskThroughputBytesPerSec)
	}
	switch metrics.CPUMode(c.CPUMode) {
	case metrics.CPUModeCarried, metrics.CPUModeBlocking:
	default:
		return fmt.Errorf("unknown cpu_mode %q", c.CPUMode)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must not be negative, got %d", c.HistoryLimit)
	}
	return nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c *Config) Options() metrics.Options {
	return metrics.Options{
		Interval:          c.Interval(),
		MaxDiskThroughput: c.MaxDiskThroughputBytesPerSec,
		CPUMode:           metrics.CPUMode(c.CPUMode),
	}
}

// Level returns the gommon log level, INFO for anything unparsable.
func (c *Config) Level() log.Lvl {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return log.INFO
	}
	return lvl
}

func parseLevel(s string) (log.Lvl, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DEBUG, nil
	case "info", "":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	}
	return 0, fmt.Errorf("unknown log_level %q", s)
}
