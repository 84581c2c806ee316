// Package config loads the server configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Backend  BackendConfig  `yaml:"backend"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig selects and authenticates the model provider.
type ProviderConfig struct {
	// Name is "openai" or "anthropic".
	Name   string `yaml:"name"`
	APIKey string `yaml:"api_key"`
	// Model is the default model for new sessions.
	Model string `yaml:"model"`
}

// StorageConfig selects session persistence.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file, used when driver is "sqlite".
	Path string `yaml:"path"`
}

// BackendConfig points at the image processing service.
type BackendConfig struct {
	URL string `yaml:"url"`
}

// AgentConfig sets loop defaults for new sessions.
type AgentConfig struct {
	MaxSteps     int    `yaml:"max_steps"`
	SystemPrompt string `yaml:"system_prompt"`
	// InitialCredits seeds each new user's balance on the in-memory
	// ledger.
	InitialCredits int64 `yaml:"initial_credits"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables
// in the file body (e.g. ${OPENAI_API_KEY}) are expanded before
// parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Provider.APIKey = os.ExpandEnv("${OPENAI_API_KEY}")
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "openai"
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "gpt-4o"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		cfg.Storage.Path = "pixelforge.db"
	}
	if cfg.Backend.URL == "" {
		cfg.Backend.URL = "http://localhost:9100"
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 8
	}
	if cfg.Agent.InitialCredits == 0 {
		cfg.Agent.InitialCredits = 100
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
