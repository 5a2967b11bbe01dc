// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ingestd/config.yaml",
	"/etc/ingestd/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Environment:      EnvDev,
		CacheStrategy:    "balanced",
		LoadingStrategy:  "balanced",
		EmergencySymbols: []string{"BTC", "ETH"},
		DBPath:           "/data/ingestd.duckdb",
		Providers:        map[string]ProviderConfig{},
		Security: SecurityConfig{
			EncryptSensitive: false,
			EncryptionSecret: "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file, if found
//  3. Environment variables: override any setting
//
// Precedence is ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists koanf paths that arrive as comma-separated
// strings from the environment but must be unmarshaled as slices.
var sliceConfigPaths = []string{
	"emergency_critical_symbols",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - ENVIRONMENT -> environment
//   - CACHE_STRATEGY -> cache_strategy
//   - DB_PATH -> db_path
//   - ENCRYPTION_SECRET -> security.encryption_secret
//
// Provider overrides use a fixed three-part shape, PROVIDER_<ID>_<FIELD>,
// which is handled separately from the static map since the provider id
// is not known ahead of time.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if strings.HasPrefix(key, "provider_") {
		return providerEnvPath(key)
	}

	static := map[string]string{
		"environment":                "environment",
		"cache_strategy":             "cache_strategy",
		"loading_strategy":           "loading_strategy",
		"emergency_critical_symbols": "emergency_critical_symbols",
		"db_path":                    "db_path",
		"encrypt_sensitive":          "security.encrypt_sensitive",
		"encryption_secret":          "security.encryption_secret",
		"log_level":                  "logging.level",
		"log_format":                 "logging.format",
		"log_caller":                 "logging.caller",
		"http_host":                  "server.host",
		"http_port":                  "server.port",
		"http_timeout":               "server.timeout",
	}

	if mapped, ok := static[key]; ok {
		return mapped
	}
	return ""
}

// providerEnvPath maps PROVIDER_<ID>_API_KEY / _DAILY_CAP / _MONTHLY_CAP /
// _MIN_INTERVAL_MS to provider.<id>.<field>.
func providerEnvPath(key string) string {
	rest := strings.TrimPrefix(key, "provider_")
	fields := []struct {
		suffix string
		field  string
	}{
		{"_api_key", "api_key"},
		{"_daily_cap", "daily_cap"},
		{"_monthly_cap", "monthly_cap"},
		{"_min_interval_ms", "min_interval_ms"},
	}
	for _, f := range fields {
		if strings.HasSuffix(rest, f.suffix) {
			id := strings.TrimSuffix(rest, f.suffix)
			if id == "" {
				return ""
			}
			return fmt.Sprintf("provider.%s.%s", id, f.field)
		}
	}
	return ""
}
