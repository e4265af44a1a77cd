package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/flowdraft/llm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.LLM.Endpoints) != 1 {
		t.Fatalf("expected 1 default endpoint, got %d", len(cfg.LLM.Endpoints))
	}
	if cfg.LLM.Endpoints[0].Provider != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.LLM.Endpoints[0].Provider)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %f", cfg.LLM.Temperature)
	}
	if cfg.NATS.StreamName != "FLOWDRAFT" {
		t.Errorf("expected default stream FLOWDRAFT, got %s", cfg.NATS.StreamName)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "no endpoints",
			modify:  func(c *Config) { c.LLM.Endpoints = nil },
			wantErr: true,
		},
		{
			name:    "endpoint missing provider",
			modify:  func(c *Config) { c.LLM.Endpoints[0].Provider = "" },
			wantErr: true,
		},
		{
			name:    "endpoint missing model",
			modify:  func(c *Config) { c.LLM.Endpoints[0].Model = "" },
			wantErr: true,
		},
		{
			name:    "temperature too low",
			modify:  func(c *Config) { c.LLM.Temperature = -0.1 },
			wantErr: true,
		},
		{
			name:    "temperature too high",
			modify:  func(c *Config) { c.LLM.Temperature = 1.1 },
			wantErr: true,
		},
		{
			name:    "missing NATS URL",
			modify:  func(c *Config) { c.NATS.URL = "" },
			wantErr: true,
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
llm:
  endpoints:
    - provider: anthropic
      model: claude-sonnet-4-20250514
    - provider: openai
      model: gpt-4o-mini
  temperature: 0.5
  timeout: 10m
nats:
  url: "nats://test:4222"
  stream_name: "TEST"
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if len(cfg.LLM.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(cfg.LLM.Endpoints))
	}
	if cfg.LLM.Endpoints[0].Provider != "anthropic" {
		t.Errorf("expected first provider anthropic, got %s", cfg.LLM.Endpoints[0].Provider)
	}
	if cfg.LLM.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %f", cfg.LLM.Temperature)
	}
	if cfg.LLM.Timeout != 10*time.Minute {
		t.Errorf("expected timeout 10m, got %v", cfg.LLM.Timeout)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.StreamName != "TEST" {
		t.Errorf("expected stream TEST, got %s", cfg.NATS.StreamName)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		LLM: LLMConfig{
			Endpoints: []llm.Endpoint{{Provider: "anthropic", Model: "override-model"}},
		},
		Log: LogConfig{Level: "debug"},
	}

	base.Merge(override)

	if base.LLM.Endpoints[0].Model != "override-model" {
		t.Errorf("expected model override-model, got %s", base.LLM.Endpoints[0].Model)
	}
	// Temperature should remain from base since override didn't set it
	if base.LLM.Temperature != 0.7 {
		t.Errorf("expected temperature to remain default, got %f", base.LLM.Temperature)
	}
	if base.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", base.Log.Level)
	}
	// NATS should remain from base
	if base.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected NATS URL to remain default, got %s", base.NATS.URL)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Endpoints[0].Model = "saved-model"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.LLM.Endpoints[0].Model != "saved-model" {
		t.Errorf("expected model saved-model, got %s", loaded.LLM.Endpoints[0].Model)
	}
}
