// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

/*
Package config loads and validates the recognized configuration options
for the ingestion daemon: environment, cache/loading strategy presets,
emergency symbol list, per-provider credential and cap overrides, the
embedded database path, and the ambient logging/server settings.

# Sources

Config.Load layers three sources with Koanf v2, lowest to highest
precedence:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file, found via CONFIG_PATH or DefaultConfigPaths
 3. Environment variables

# Environment Variables

	ENVIRONMENT                       DEV | STAGING | PROD
	CACHE_STRATEGY                    conservative | balanced | aggressive | historical_only
	LOADING_STRATEGY                  conservative | balanced | aggressive | emergency
	EMERGENCY_CRITICAL_SYMBOLS        comma-separated symbol list
	DB_PATH                           embedded database file path
	ENCRYPT_SENSITIVE                 encrypt provider credentials at rest
	ENCRYPTION_SECRET                 secret used to derive the credential encryption key
	PROVIDER_<ID>_API_KEY             provider credential
	PROVIDER_<ID>_DAILY_CAP           override of the registry daily cap
	PROVIDER_<ID>_MONTHLY_CAP         override of the registry monthly cap
	PROVIDER_<ID>_MIN_INTERVAL_MS     override of the registry min request interval
	LOG_LEVEL, LOG_FORMAT, LOG_CALLER logging configuration
	HTTP_HOST, HTTP_PORT, HTTP_TIMEOUT consumer-facing HTTP surface

# Validation

Load calls Config.Validate, which rejects unrecognized enum values, a
missing db_path, and encrypt_sensitive=true with no encryption_secret.

# Credential Encryption

Provider API keys are encrypted at rest when encrypt_sensitive is true,
using CredentialEncryptor (see encryption.go), keyed from
Security.EncryptionSecret.
*/
package config
