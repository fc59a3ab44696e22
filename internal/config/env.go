// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/voxlabs/voxgate/internal/log"
)

// ParseString reads a string from an environment variable or returns the default.
func ParseString(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

// ParseInt reads an integer from an environment variable or returns the default.
// Invalid values fall back to the default with a warning.
func ParseInt(key string, defaultValue int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseFloat reads a float from an environment variable or returns the default.
func ParseFloat(key string, defaultValue float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean from an environment variable or returns the default.
func ParseBool(key string, defaultValue bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration (Go syntax, e.g. "30s") from an environment
// variable or returns the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

// applyEnv overlays VOXGATE_* environment variables onto cfg.
func applyEnv(cfg Config) Config {
	cfg.ListenAddr = ParseString("VOXGATE_LISTEN", cfg.ListenAddr)
	cfg.DataDir = ParseString("VOXGATE_DATA", cfg.DataDir)
	cfg.LogLevel = ParseString("VOXGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = ParseString("VOXGATE_LOG_SERVICE", cfg.LogService)
	cfg.MaxConnections = ParseInt("VOXGATE_MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.AdmissionTimeout = ParseDuration("VOXGATE_ADMISSION_TIMEOUT", cfg.AdmissionTimeout)
	cfg.EnableHealthChecks = ParseBool("VOXGATE_ENABLE_HEALTH_CHECKS", cfg.EnableHealthChecks)
	cfg.SamplingPeriod = ParseDuration("VOXGATE_SAMPLING_PERIOD", cfg.SamplingPeriod)
	cfg.MemoryThresholdPercent = ParseFloat("VOXGATE_MEMORY_THRESHOLD", cfg.MemoryThresholdPercent)
	cfg.UtilizationThresholdPercent = ParseFloat("VOXGATE_UTILIZATION_THRESHOLD", cfg.UtilizationThresholdPercent)
	cfg.TemperatureThresholdCelsius = ParseInt("VOXGATE_TEMPERATURE_THRESHOLD", cfg.TemperatureThresholdCelsius)
	cfg.PerSessionMemoryMB = ParseInt("VOXGATE_PER_SESSION_MEMORY_MB", cfg.PerSessionMemoryMB)
	cfg.ReserveMemoryMB = ParseInt("VOXGATE_RESERVE_MEMORY_MB", cfg.ReserveMemoryMB)
	cfg.FallbackTotalMemoryMB = ParseInt("VOXGATE_FALLBACK_TOTAL_MEMORY_MB", cfg.FallbackTotalMemoryMB)
	cfg.RateLimitRequests = ParseInt("VOXGATE_RATE_LIMIT_REQUESTS", cfg.RateLimitRequests)
	cfg.RateLimitWindow = ParseDuration("VOXGATE_RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	cfg.TelemetryEnabled = ParseBool("VOXGATE_TELEMETRY_ENABLED", cfg.TelemetryEnabled)
	cfg.TelemetryExporter = ParseString("VOXGATE_TELEMETRY_EXPORTER", cfg.TelemetryExporter)
	cfg.TelemetryEndpoint = ParseString("VOXGATE_TELEMETRY_ENDPOINT", cfg.TelemetryEndpoint)
	cfg.TelemetrySampling = ParseFloat("VOXGATE_TELEMETRY_SAMPLING", cfg.TelemetrySampling)
	cfg.Environment = ParseString("VOXGATE_ENVIRONMENT", cfg.Environment)
	return cfg
}
