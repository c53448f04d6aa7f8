// Package config loads the courier configuration from a TOML file, with
// defaults suitable for a local development run.
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hallmarket/courier/internal/kv"
	"github.com/hallmarket/courier/internal/queue"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server struct {
		Listen string `toml:"listen"`
	} `toml:"server"`

	// Logging configuration
	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
	} `toml:"logging"`

	// Queue configuration
	Queue struct {
		MaxConcurrent        int            `toml:"max_concurrent"`
		RateLimit            map[string]int `toml:"rate_limit"`        // tier -> sends per second, 0 = unlimited
		SendIntervalsMs      map[string]int `toml:"send_intervals_ms"` // tier -> minimum gap in ms
		TestingIntervalMs    int            `toml:"testing_interval_ms"`
		RetryDelaysMs        []int          `toml:"retry_delays_ms"`
		MaxQueueSize         int            `toml:"max_queue_size"`
		BatchSize            int            `toml:"batch_size"`
		ProcessingIntervalMs int            `toml:"processing_interval_ms"`
		CleanupIntervalSec   int            `toml:"cleanup_interval_sec"`
		PersistIntervalSec   int            `toml:"persist_interval_sec"`
		MaxAgeHours          int            `toml:"max_age_hours"`
		RetryBoost           float64        `toml:"retry_boost"`
		WaitBoost            float64        `toml:"wait_boost"`
		PersistenceKey       string         `toml:"persistence_key"`
		DomainLimits         map[string]int `toml:"domain_limits"` // domain -> sends per second
		IdempotencyCacheSize int            `toml:"idempotency_cache_size"`
		DefaultMaxAttempts   int            `toml:"default_max_attempts"`
		TestingMode          bool           `toml:"testing_mode"`
	} `toml:"queue"`

	// Storage configuration for the snapshot store
	Storage struct {
		Type     string `toml:"type"` // memory, redis, memcached, sqlite
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Password string `toml:"password"`
		Database int    `toml:"database"`
		Path     string `toml:"path"`
	} `toml:"storage"`

	// Transmitter configuration
	Transmitter struct {
		Type        string  `toml:"type"` // "log" is the only built-in
		FailureRate float64 `toml:"failure_rate"`
		Breaker     bool    `toml:"breaker"`
	} `toml:"transmitter"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Listen = ":8825"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	defaults := queue.DefaultOptions()
	cfg.Queue.MaxConcurrent = defaults.MaxConcurrent
	cfg.Queue.MaxQueueSize = defaults.MaxQueueSize
	cfg.Queue.BatchSize = defaults.BatchSize
	cfg.Queue.ProcessingIntervalMs = int(defaults.ProcessingInterval.Milliseconds())
	cfg.Queue.CleanupIntervalSec = int(defaults.CleanupInterval.Seconds())
	cfg.Queue.PersistIntervalSec = int(defaults.PersistInterval.Seconds())
	cfg.Queue.MaxAgeHours = int(defaults.MaxAge.Hours())
	cfg.Queue.RetryBoost = defaults.PriorityBoost.RetryCount
	cfg.Queue.WaitBoost = defaults.PriorityBoost.WaitTime
	cfg.Queue.PersistenceKey = defaults.PersistenceKey
	cfg.Queue.IdempotencyCacheSize = defaults.IdempotencyCacheSize
	cfg.Queue.DefaultMaxAttempts = defaults.DefaultMaxAttempts

	cfg.Queue.RateLimit = map[string]int{}
	for tier, n := range defaults.RateLimit {
		cfg.Queue.RateLimit[string(tier)] = n
	}
	cfg.Queue.SendIntervalsMs = map[string]int{}
	for tier, d := range defaults.SendIntervals {
		cfg.Queue.SendIntervalsMs[string(tier)] = int(d.Milliseconds())
	}
	cfg.Queue.RetryDelaysMs = make([]int, len(defaults.RetryDelays))
	for i, d := range defaults.RetryDelays {
		cfg.Queue.RetryDelaysMs[i] = int(d.Milliseconds())
	}
	cfg.Queue.DomainLimits = map[string]int{}

	cfg.Storage.Type = "sqlite"
	cfg.Storage.Path = "courier.db"

	cfg.Transmitter.Type = "log"
	cfg.Transmitter.Breaker = true

	return cfg
}

// FindConfigFile looks for a configuration file in common locations
func FindConfigFile(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config file not found at specified path: %s", configPath)
	}

	locations := []string{
		"./courier.toml",
		"./config/courier.toml",
		os.ExpandEnv("$HOME/.courier.toml"),
		"/etc/courier/courier.toml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", nil // no file found, defaults apply
}

// LoadConfig loads configuration from the given path, or the first file
// found in the search locations, falling back to defaults when no file
// exists. COURIER_LISTEN and COURIER_STORAGE_HOST override their file
// counterparts.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	path, err := FindConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if listen := os.Getenv("COURIER_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if host := os.Getenv("COURIER_STORAGE_HOST"); host != "" {
		cfg.Storage.Host = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	switch c.Storage.Type {
	case "memory", "redis", "memcached", "sqlite":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Transmitter.Type != "log" {
		return fmt.Errorf("unknown transmitter type %q", c.Transmitter.Type)
	}
	for tier := range c.Queue.RateLimit {
		if !queue.Priority(tier).Valid() {
			return fmt.Errorf("unknown priority tier %q in queue.rate_limit", tier)
		}
	}
	for tier := range c.Queue.SendIntervalsMs {
		if !queue.Priority(tier).Valid() {
			return fmt.Errorf("unknown priority tier %q in queue.send_intervals_ms", tier)
		}
	}
	for _, d := range c.Queue.RetryDelaysMs {
		if d <= 0 {
			return fmt.Errorf("queue.retry_delays_ms entries must be positive")
		}
	}
	return nil
}

// QueueOptions converts the file representation into queue options
func (c *Config) QueueOptions() queue.Options {
	opts := queue.Options{
		MaxConcurrent:        c.Queue.MaxConcurrent,
		RateLimit:            map[queue.Priority]int{},
		SendIntervals:        map[queue.Priority]time.Duration{},
		TestingInterval:      time.Duration(c.Queue.TestingIntervalMs) * time.Millisecond,
		MaxQueueSize:         c.Queue.MaxQueueSize,
		BatchSize:            c.Queue.BatchSize,
		ProcessingInterval:   time.Duration(c.Queue.ProcessingIntervalMs) * time.Millisecond,
		CleanupInterval:      time.Duration(c.Queue.CleanupIntervalSec) * time.Second,
		PersistInterval:      time.Duration(c.Queue.PersistIntervalSec) * time.Second,
		MaxAge:               time.Duration(c.Queue.MaxAgeHours) * time.Hour,
		PersistenceKey:       c.Queue.PersistenceKey,
		DomainLimits:         c.Queue.DomainLimits,
		IdempotencyCacheSize: c.Queue.IdempotencyCacheSize,
		DefaultMaxAttempts:   c.Queue.DefaultMaxAttempts,
		TestingMode:          c.Queue.TestingMode,
		PriorityBoost: queue.BoostWeights{
			RetryCount: c.Queue.RetryBoost,
			WaitTime:   c.Queue.WaitBoost,
		},
	}
	for tier, n := range c.Queue.RateLimit {
		opts.RateLimit[queue.Priority(tier)] = n
	}
	for tier, ms := range c.Queue.SendIntervalsMs {
		opts.SendIntervals[queue.Priority(tier)] = time.Duration(ms) * time.Millisecond
	}
	for _, ms := range c.Queue.RetryDelaysMs {
		opts.RetryDelays = append(opts.RetryDelays, time.Duration(ms)*time.Millisecond)
	}
	return opts
}

// StoreConfig converts the storage section into a kv configuration
func (c *Config) StoreConfig() kv.Config {
	return kv.Config{
		Type:     c.Storage.Type,
		Host:     c.Storage.Host,
		Port:     c.Storage.Port,
		Password: c.Storage.Password,
		Database: c.Storage.Database,
		Path:     c.Storage.Path,
	}
}
