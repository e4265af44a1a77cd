// Package config provides configuration loading and management for Flowdraft.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/flowdraft/llm"
)

// Config represents the complete Flowdraft configuration
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LLMConfig configures the model endpoints
type LLMConfig struct {
	// Endpoints is the fallback chain, tried in order
	Endpoints []llm.Endpoint `yaml:"endpoints"`
	// Temperature controls randomness (0.0-1.0, default: 0.7)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// StreamName is the JetStream stream carrying authoring requests
	StreamName string `yaml:"stream_name"`
}

// LogConfig configures structured logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is "text" or "json"
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus scrape endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty disables it)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoints: []llm.Endpoint{
				{Provider: "openai", Model: "qwen2.5-coder:32b", URL: "http://localhost:11434/v1"},
			},
			Temperature: 0.7,
			Timeout:     5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			StreamName: "FLOWDRAFT",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "", // Disabled by default
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.LLM.Endpoints) == 0 {
		return fmt.Errorf("llm.endpoints is required")
	}
	for i, ep := range c.LLM.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("llm.endpoints[%d].provider is required", i)
		}
		if ep.Model == "" {
			return fmt.Errorf("llm.endpoints[%d].model is required", i)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.StreamName == "" {
		return fmt.Errorf("nats.stream_name is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LogLevel converts the configured level to a slog.Level
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
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

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// LLM
	if len(other.LLM.Endpoints) > 0 {
		c.LLM.Endpoints = other.LLM.Endpoints
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.StreamName != "" {
		c.NATS.StreamName = other.NATS.StreamName
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
