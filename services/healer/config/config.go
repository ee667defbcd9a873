// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the healer service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration Types
// =============================================================================

// Config is the full service configuration.
//
// Description:
//
//	Read once at process start and immutable afterwards. Sources, lowest
//	priority first: DefaultConfig, the YAML file, .env files, the process
//	environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Loop      LoopConfig      `yaml:"loop"`
	LLM       LLMConfig       `yaml:"llm"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// GinMode is debug, release or test.
	GinMode string `yaml:"gin_mode" validate:"oneof=debug release test"`

	// FrontendDir is served under /ui when set.
	FrontendDir string `yaml:"frontend_dir"`

	// MaxConcurrentSessions bounds simultaneous healing sessions.
	MaxConcurrentSessions int64 `yaml:"max_concurrent_sessions" validate:"min=1"`

	ServiceName string `yaml:"service_name" validate:"required"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0s"`
}

// LoopConfig holds reflection loop settings.
type LoopConfig struct {
	MaxIterations int           `yaml:"max_iterations" validate:"min=0,max=20"`
	CallTimeout   time.Duration `yaml:"call_timeout" validate:"gte=0s"`
	ParsePolicy   string        `yaml:"parse_policy" validate:"oneof=fail_open fail_closed"`
}

// LLMConfig selects and tunes the LLM backend.
type LLMConfig struct {
	// Backend is nim, openai, ollama or anthropic.
	Backend string `yaml:"backend" validate:"oneof=nim openai ollama anthropic"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKey is only ever read from the environment.
	APIKey string `yaml:"-"`

	AuditTemperature float32 `yaml:"audit_temperature" validate:"gte=0,lte=2"`
	AuditMaxTokens   int     `yaml:"audit_max_tokens" validate:"min=1"`
	FixTemperature   float32 `yaml:"fix_temperature" validate:"gte=0,lte=2"`
	FixMaxTokens     int     `yaml:"fix_max_tokens" validate:"min=1"`

	MaxRetries        uint    `yaml:"max_retries" validate:"lte=10"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// StorageConfig configures the session store.
type StorageConfig struct {
	// Path is the badger directory. Empty disables persistence;
	// ":memory:" keeps sessions in memory.
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl" validate:"gte=0s"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Exporter otlp"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8000,
			GinMode:               "release",
			MaxConcurrentSessions: 8,
			ServiceName:           "self-healing-auditor",
			ShutdownTimeout:       30 * time.Second,
		},
		Loop: LoopConfig{
			MaxIterations: 3,
			CallTimeout:   120 * time.Second,
			ParsePolicy:   "fail_open",
		},
		LLM: LLMConfig{
			Backend:           "nim",
			AuditTemperature:  0.1,
			AuditMaxTokens:    2048,
			FixTemperature:    0.2,
			FixMaxTokens:      3072,
			MaxRetries:        2,
			RequestsPerSecond: 0,
		},
		Telemetry: TelemetryConfig{
			Exporter: "none",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the configuration.
//
// Inputs:
//
//	path - YAML config file. Empty skips the file; a missing file is not
//	       an error.
//	envFiles - .env files to load into the environment. Missing files are
//	           skipped. Existing environment variables are never
//	           overwritten. None given means ".env".
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil if a source is malformed or validation fails.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := loadDotEnv(envFiles); err != nil {
		return cfg, fmt.Errorf("load env file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadDotEnv(files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

// apiKeyEnv maps hosted backends to the variable holding their key.
var apiKeyEnv = map[string]string{
	"nim":       "NVIDIA_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func applyEnv(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString("APP_HOST", &cfg.Server.Host)
	setInt("APP_PORT", &cfg.Server.Port)
	setString("GIN_MODE", &cfg.Server.GinMode)
	setString("FRONTEND_DIR", &cfg.Server.FrontendDir)
	if v := os.Getenv("MAX_CONCURRENT_SESSIONS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_CONCURRENT_SESSIONS: %w", err))
		} else {
			cfg.Server.MaxConcurrentSessions = n
		}
	}

	setInt("MAX_ITERATIONS", &cfg.Loop.MaxIterations)
	setDuration("CALL_TIMEOUT", &cfg.Loop.CallTimeout)
	setString("PARSE_POLICY", &cfg.Loop.ParsePolicy)

	setString("LLM_BACKEND", &cfg.LLM.Backend)
	cfg.LLM.Backend = strings.ToLower(cfg.LLM.Backend)
	setString("LLM_MODEL", &cfg.LLM.Model)
	setString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	if cfg.LLM.Backend == "ollama" {
		setString("OLLAMA_BASE_URL", &cfg.LLM.BaseURL)
	}
	if key, ok := apiKeyEnv[cfg.LLM.Backend]; ok {
		cfg.LLM.APIKey = strings.TrimSpace(os.Getenv(key))
	}

	setString("STORE_PATH", &cfg.Storage.Path)

	setString("OTEL_EXPORTER", &cfg.Telemetry.Exporter)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	setString("LOG_DIR", &cfg.Logging.Dir)

	return errors.Join(errs...)
}

// =============================================================================
// Validation
// =============================================================================

var configValidate = validator.New()

// Validate checks field constraints and backend requirements.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return err
	}
	if key, ok := apiKeyEnv[c.LLM.Backend]; ok && c.LLM.APIKey == "" {
		return fmt.Errorf("%s not found in environment; it is required for the %s backend", key, c.LLM.Backend)
	}
	if c.LLM.Backend == "ollama" && c.LLM.BaseURL == "" {
		return errors.New("OLLAMA_BASE_URL (or llm.base_url) is required for the ollama backend")
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
