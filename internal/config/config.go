// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package config

import (
	"fmt"
	"time"
)

// Environment selects the default policy preset and encryption defaults
// (spec §6 configuration table).
type Environment string

const (
	EnvDev     Environment = "DEV"
	EnvStaging Environment = "STAGING"
	EnvProd    Environment = "PROD"
)

// Config holds all configuration recognized by the ingestion daemon
// (spec §6, "Configuration (recognized options, exhaustively)"). Loading
// this struct from environment/files is the CLI driver's concern, not the
// core library's — the core packages (governor, quota, cachestore, ...)
// take already-resolved values as constructor arguments.
type Config struct {
	Environment      Environment        `koanf:"environment"`
	CacheStrategy    string             `koanf:"cache_strategy"`
	LoadingStrategy  string             `koanf:"loading_strategy"`
	EmergencySymbols []string           `koanf:"emergency_critical_symbols"`
	DBPath           string             `koanf:"db_path"`
	Providers        map[string]ProviderConfig `koanf:"provider"`
	Security         SecurityConfig     `koanf:"security"`
	Logging          LoggingConfig      `koanf:"logging"`
	Server           ServerConfig       `koanf:"server"`
}

// ProviderConfig overrides a provider's registry.Descriptor caps and
// carries its credential (spec §6: "provider.{id}.api_key",
// "provider.{id}.daily_cap / monthly_cap / min_interval_ms").
type ProviderConfig struct {
	APIKey        string        `koanf:"api_key"`
	DailyCap      int           `koanf:"daily_cap"`
	MonthlyCap    int           `koanf:"monthly_cap"`
	MinIntervalMS int           `koanf:"min_interval_ms"`
}

// MinInterval converts MinIntervalMS to a time.Duration.
func (p ProviderConfig) MinInterval() time.Duration {
	return time.Duration(p.MinIntervalMS) * time.Millisecond
}

// SecurityConfig holds credential-encryption settings. EncryptionSecret
// backs config.NewCredentialEncryptor (see encryption.go).
type SecurityConfig struct {
	EncryptSensitive bool   `koanf:"encrypt_sensitive"`
	EncryptionSecret string `koanf:"encryption_secret"`
}

// LoggingConfig mirrors the teacher's ambient logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig configures the minimal HTTP surface (spec §6: healthz,
// stats, metrics).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Validate checks required fields and enumerated-value membership.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment: must be one of DEV, STAGING, PROD, got %q", c.Environment)
	}

	switch c.CacheStrategy {
	case "conservative", "balanced", "aggressive", "historical_only":
	default:
		return fmt.Errorf("cache_strategy: must be one of conservative, balanced, aggressive, historical_only, got %q", c.CacheStrategy)
	}

	switch c.LoadingStrategy {
	case "conservative", "balanced", "aggressive", "emergency":
	default:
		return fmt.Errorf("loading_strategy: must be one of conservative, balanced, aggressive, emergency, got %q", c.LoadingStrategy)
	}

	if c.DBPath == "" {
		return fmt.Errorf("db_path: required")
	}

	if c.Security.EncryptSensitive && c.Security.EncryptionSecret == "" {
		return fmt.Errorf("security.encryption_secret: required when encrypt_sensitive is true")
	}

	for id, p := range c.Providers {
		if p.DailyCap < 0 || p.MonthlyCap < 0 {
			return fmt.Errorf("provider.%s: daily_cap and monthly_cap must be non-negative", id)
		}
	}

	return nil
}
