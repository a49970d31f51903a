// Package config loads process configuration from a TOML file merged
// with environment overrides. Environment always wins, so a deployed
// process can be steered without editing files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full process configuration.
type Config struct {
	LogLevel string `toml:"log_level"`

	NATS    NATSConfig    `toml:"nats"`
	Store   StoreConfig   `toml:"store"`
	LLM     LLMConfig     `toml:"llm"`
	Worker  WorkerConfig  `toml:"worker"`
	Monitor MonitorConfig `toml:"monitor"`
}

// NATSConfig holds event stream settings.
type NATSConfig struct {
	URL    string `toml:"url"`
	Stream string `toml:"stream"`
}

// StoreConfig holds coordination store settings.
type StoreConfig struct {
	Bucket             string `toml:"bucket"`
	PendingTTLSeconds  int    `toml:"pending_ttl_seconds"`
	ResolvedTTLSeconds int    `toml:"resolved_ttl_seconds"`
}

// PendingTTL returns the pending TTL as a duration.
func (s StoreConfig) PendingTTL() time.Duration {
	return time.Duration(s.PendingTTLSeconds) * time.Second
}

// ResolvedTTL returns the resolved TTL as a duration.
func (s StoreConfig) ResolvedTTL() time.Duration {
	return time.Duration(s.ResolvedTTLSeconds) * time.Second
}

// LLMConfig holds generation settings. An empty APIKey means the local
// template generator serves readings and chat is unavailable.
type LLMConfig struct {
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

// WorkerConfig holds worker process settings.
type WorkerConfig struct {
	Group                  string `toml:"group"`
	GenerateTimeoutSeconds int    `toml:"generate_timeout_seconds"`
}

// GenerateTimeout returns the generation timeout as a duration.
func (w WorkerConfig) GenerateTimeout() time.Duration {
	return time.Duration(w.GenerateTimeoutSeconds) * time.Second
}

// MonitorConfig holds completion monitor settings.
type MonitorConfig struct {
	Group               string `toml:"group"`
	MaxWaitSeconds      int    `toml:"max_wait_seconds"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

// MaxWait returns the await bound as a duration.
func (m MonitorConfig) MaxWait() time.Duration {
	return time.Duration(m.MaxWaitSeconds) * time.Second
}

// PollInterval returns the poll gap as a duration.
func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		NATS: NATSConfig{
			URL:    "nats://127.0.0.1:4222",
			Stream: "ASTROFLOW",
		},
		Store: StoreConfig{
			Bucket:             "astroflow-tasks",
			PendingTTLSeconds:  300,
			ResolvedTTLSeconds: 60,
		},
		LLM: LLMConfig{
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "google/gemini-2.5-flash-lite-preview-09-2025",
			MaxTokens: 1024,
		},
		Worker: WorkerConfig{
			Group:                  "workers",
			GenerateTimeoutSeconds: 120,
		},
		Monitor: MonitorConfig{
			Group:               "monitors",
			MaxWaitSeconds:      300,
			PollIntervalSeconds: 2,
		},
	}
}

// Load reads the TOML file at path (skipped when path is empty or the
// file does not exist), then applies environment overrides, then
// validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() {
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.NATS.Stream, "NATS_STREAM")
	setString(&c.Store.Bucket, "STORE_BUCKET")
	setInt(&c.Store.PendingTTLSeconds, "PENDING_TTL_SECONDS")
	setInt(&c.Store.ResolvedTTLSeconds, "RESOLVED_TTL_SECONDS")
	setString(&c.LLM.APIKey, "OPENROUTER_API_KEY")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Model, "DEFAULT_LLM_MODEL")
	setInt(&c.LLM.MaxTokens, "LLM_MAX_TOKENS")
	setString(&c.Worker.Group, "WORKER_GROUP")
	setInt(&c.Worker.GenerateTimeoutSeconds, "GENERATE_TIMEOUT_SECONDS")
	setString(&c.Monitor.Group, "MONITOR_GROUP")
	setInt(&c.Monitor.MaxWaitSeconds, "MONITOR_MAX_WAIT_SECONDS")
	setInt(&c.Monitor.PollIntervalSeconds, "MONITOR_POLL_INTERVAL_SECONDS")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.Stream == "" {
		return fmt.Errorf("nats.stream is required")
	}
	if c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required")
	}
	if c.Store.PendingTTLSeconds <= 0 {
		return fmt.Errorf("store.pending_ttl_seconds must be positive")
	}
	if c.Store.ResolvedTTLSeconds <= 0 {
		return fmt.Errorf("store.resolved_ttl_seconds must be positive")
	}
	if c.Monitor.MaxWaitSeconds <= 0 || c.Monitor.PollIntervalSeconds <= 0 {
		return fmt.Errorf("monitor wait and poll interval must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
