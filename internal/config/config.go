/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config loads the engine's configuration envelope. Sources, in
// priority order: environment variables > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/marcus-qen/agentengine/internal/secprofile"
)

// AuditLevel controls what an execution's audit details record.
type AuditLevel string

const (
	AuditLevelNone  AuditLevel = "none"
	AuditLevelBasic AuditLevel = "basic"
	AuditLevelFull  AuditLevel = "full"
)

// HashAlgorithm selects the audit chain's digest function.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashSHA512 HashAlgorithm = "sha512"
)

// Config is the engine's recognized configuration envelope, per its
// external interface contract.
type Config struct {
	MemoryLimitBytes        int64                `json:"memory_limit_bytes"`
	TimeoutMs               int64                `json:"timeout_ms"`
	DefaultSecurityProfile  secprofile.Name       `json:"default_security_profile"`
	AuditEnabled            bool                 `json:"audit_enabled"`
	AuditLevel              AuditLevel           `json:"audit_level"`
	AuditHashAlgorithm      HashAlgorithm        `json:"audit_hash_algorithm"`
	MaxPoolSize             int                  `json:"max_pool_size"`
	MinPoolSize             int                  `json:"min_pool_size"`
	PoolIdleTimeoutMs       int64                `json:"pool_idle_timeout_ms"`
	TenantIsolation         bool                 `json:"tenant_isolation"`
	MaxConcurrentExecutions int                  `json:"max_concurrent_executions"`
	DataRetentionDays       int                  `json:"data_retention_days"`
	LogLevel                string               `json:"log_level"`
}

// Default returns the envelope's baseline values, matching the three
// pinned profiles' tenant-isolated defaults and the runtime pool's own
// DefaultConfig so an unconfigured engine behaves identically to one
// that explicitly selected every default.
func Default() Config {
	return Config{
		MemoryLimitBytes:        8 << 20,
		TimeoutMs:               15_000,
		DefaultSecurityProfile:  secprofile.TenantIsolated,
		AuditEnabled:            true,
		AuditLevel:              AuditLevelBasic,
		AuditHashAlgorithm:      HashSHA256,
		MaxPoolSize:             100,
		MinPoolSize:             5,
		PoolIdleTimeoutMs:       30_000,
		TenantIsolation:         true,
		MaxConcurrentExecutions: 4,
		DataRetentionDays:       90,
		LogLevel:                "info",
	}
}

// Load reads configuration from a file, if path is non-empty, then
// overlays recognized environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("AGENTENGINE_MEMORY_LIMIT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MemoryLimitBytes = n
		}
	}
	if v := os.Getenv("AGENTENGINE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TimeoutMs = n
		}
	}
	if v := os.Getenv("AGENTENGINE_DEFAULT_SECURITY_PROFILE"); v != "" {
		cfg.DefaultSecurityProfile = secprofile.Name(v)
	}
	if v := os.Getenv("AGENTENGINE_AUDIT_ENABLED"); v != "" {
		cfg.AuditEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTENGINE_AUDIT_LEVEL"); v != "" {
		cfg.AuditLevel = AuditLevel(v)
	}
	if v := os.Getenv("AGENTENGINE_AUDIT_HASH_ALGORITHM"); v != "" {
		cfg.AuditHashAlgorithm = HashAlgorithm(v)
	}
	if v := os.Getenv("AGENTENGINE_MAX_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPoolSize = n
		}
	}
	if v := os.Getenv("AGENTENGINE_MIN_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinPoolSize = n
		}
	}
	if v := os.Getenv("AGENTENGINE_POOL_IDLE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PoolIdleTimeoutMs = n
		}
	}
	if v := os.Getenv("AGENTENGINE_TENANT_ISOLATION"); v != "" {
		cfg.TenantIsolation = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTENGINE_MAX_CONCURRENT_EXECUTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentExecutions = n
		}
	}
	if v := os.Getenv("AGENTENGINE_DATA_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DataRetentionDays = n
		}
	}
	if v := os.Getenv("AGENTENGINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// Validate rejects an envelope whose values could never run an
// execution (a zero or negative pool size, an unrecognized profile
// name, …), surfacing the problem at startup rather than at the first
// Supervisor.Execute call.
func (c Config) Validate() error {
	if _, ok := secprofile.Get(c.DefaultSecurityProfile); !ok {
		return fmt.Errorf("default_security_profile %q is not one of the pinned profiles", c.DefaultSecurityProfile)
	}
	if c.MaxPoolSize <= 0 {
		return fmt.Errorf("max_pool_size must be positive, got %d", c.MaxPoolSize)
	}
	if c.MinPoolSize < 0 || c.MinPoolSize > c.MaxPoolSize {
		return fmt.Errorf("min_pool_size (%d) must be between 0 and max_pool_size (%d)", c.MinPoolSize, c.MaxPoolSize)
	}
	switch c.AuditHashAlgorithm {
	case HashSHA256, HashSHA512, "":
	default:
		return fmt.Errorf("audit_hash_algorithm %q is not sha256 or sha512", c.AuditHashAlgorithm)
	}
	switch c.AuditLevel {
	case AuditLevelNone, AuditLevelBasic, AuditLevelFull, "":
	default:
		return fmt.Errorf("audit_level %q is not none, basic, or full", c.AuditLevel)
	}
	return nil
}
