// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Environment = EnvProd
	cfg.CacheStrategy = "balanced"
	cfg.LoadingStrategy = "balanced"
	cfg.DBPath = "/data/ingestd.duckdb"
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = "QA"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownCacheStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.CacheStrategy = "whatever"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingDBPath(t *testing.T) {
	cfg := validConfig()
	cfg.DBPath = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEncryptSensitiveWithoutSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Security.EncryptSensitive = true
	cfg.Security.EncryptionSecret = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeProviderCaps(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = map[string]ProviderConfig{"cc": {DailyCap: -1}}
	require.Error(t, cfg.Validate())
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	os.Clearenv()
	t.Cleanup(os.Clearenv)

	require.NoError(t, os.Setenv("ENVIRONMENT", "PROD"))
	require.NoError(t, os.Setenv("CACHE_STRATEGY", "aggressive"))
	require.NoError(t, os.Setenv("LOADING_STRATEGY", "emergency"))
	require.NoError(t, os.Setenv("DB_PATH", "/tmp/ingestd-test.duckdb"))
	require.NoError(t, os.Setenv("PROVIDER_CC_API_KEY", "secret-key"))
	require.NoError(t, os.Setenv("PROVIDER_CC_DAILY_CAP", "5000"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, "aggressive", cfg.CacheStrategy)
	require.Equal(t, "emergency", cfg.LoadingStrategy)
	require.Equal(t, "/tmp/ingestd-test.duckdb", cfg.DBPath)
	require.Equal(t, "secret-key", cfg.Providers["cc"].APIKey)
	require.Equal(t, 5000, cfg.Providers["cc"].DailyCap)
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	os.Clearenv()
	t.Cleanup(os.Clearenv)
	require.NoError(t, os.Setenv("ENVIRONMENT", "NOPE"))
	require.NoError(t, os.Setenv("DB_PATH", "/tmp/ingestd-test.duckdb"))

	_, err := Load()
	require.Error(t, err)
}
