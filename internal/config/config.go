// SPDX-License-Identifier: MIT

// Package config provides configuration management for voxgate.
// Precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config holds the full daemon configuration.
type Config struct {
	// Server
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	// Logging
	LogLevel   string `yaml:"log_level"`
	LogService string `yaml:"log_service"`

	// Admission
	MaxConnections   int           `yaml:"max_connections"`
	AdmissionTimeout time.Duration `yaml:"admission_timeout"`

	// GPU monitoring
	EnableHealthChecks          bool          `yaml:"enable_health_checks"`
	SamplingPeriod              time.Duration `yaml:"sampling_period"`
	MemoryThresholdPercent      float64       `yaml:"memory_threshold_percent"`
	UtilizationThresholdPercent float64       `yaml:"utilization_threshold_percent"`
	TemperatureThresholdCelsius int           `yaml:"temperature_threshold_celsius"`
	PerSessionMemoryMB          int           `yaml:"per_session_memory_mb"`
	ReserveMemoryMB             int           `yaml:"reserve_memory_mb"`
	FallbackTotalMemoryMB       int           `yaml:"fallback_total_memory_mb"`

	// HTTP surface
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// Telemetry
	TelemetryEnabled  bool    `yaml:"telemetry_enabled"`
	TelemetryExporter string  `yaml:"telemetry_exporter"`
	TelemetryEndpoint string  `yaml:"telemetry_endpoint"`
	TelemetrySampling float64 `yaml:"telemetry_sampling"`
	Environment       string  `yaml:"environment"`

	// Version is injected by the loader, not configurable.
	Version string `yaml:"-"`
}

// Defaults returns the built-in default configuration.
func Defaults() Config {
	return Config{
		ListenAddr:                  ":8012",
		DataDir:                     "/var/lib/voxgate",
		LogLevel:                    "info",
		LogService:                  "voxgate",
		MaxConnections:              50,
		AdmissionTimeout:            30 * time.Second,
		EnableHealthChecks:          true,
		SamplingPeriod:              10 * time.Second,
		MemoryThresholdPercent:      85.0,
		UtilizationThresholdPercent: 95.0,
		TemperatureThresholdCelsius: 85,
		PerSessionMemoryMB:          500,
		ReserveMemoryMB:             1000,
		// The heuristic source assumes a 12 GiB card when no probe is available.
		FallbackTotalMemoryMB: 12288,
		RateLimitRequests:     60,
		RateLimitWindow:       time.Minute,
		TelemetryEnabled:      false,
		TelemetryExporter:     "grpc",
		TelemetrySampling:     0.1,
		Environment:           "production",
	}
}

// Validate checks the configuration for values that would break the daemon at
// runtime. It returns the first problem found with an actionable message.
func Validate(cfg Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.AdmissionTimeout <= 0 {
		return fmt.Errorf("admission_timeout must be positive, got %s", cfg.AdmissionTimeout)
	}
	if cfg.SamplingPeriod <= 0 {
		return fmt.Errorf("sampling_period must be positive, got %s", cfg.SamplingPeriod)
	}
	if cfg.MemoryThresholdPercent <= 0 || cfg.MemoryThresholdPercent > 100 {
		return fmt.Errorf("memory_threshold_percent must be in (0,100], got %g", cfg.MemoryThresholdPercent)
	}
	if cfg.UtilizationThresholdPercent <= 0 || cfg.UtilizationThresholdPercent > 100 {
		return fmt.Errorf("utilization_threshold_percent must be in (0,100], got %g", cfg.UtilizationThresholdPercent)
	}
	if cfg.TemperatureThresholdCelsius <= 0 {
		return fmt.Errorf("temperature_threshold_celsius must be positive, got %d", cfg.TemperatureThresholdCelsius)
	}
	if cfg.PerSessionMemoryMB <= 0 {
		return fmt.Errorf("per_session_memory_mb must be positive, got %d", cfg.PerSessionMemoryMB)
	}
	if cfg.ReserveMemoryMB < 0 {
		return fmt.Errorf("reserve_memory_mb must not be negative, got %d", cfg.ReserveMemoryMB)
	}
	if cfg.FallbackTotalMemoryMB <= 0 {
		return fmt.Errorf("fallback_total_memory_mb must be positive, got %d", cfg.FallbackTotalMemoryMB)
	}
	if cfg.TelemetryEnabled {
		switch cfg.TelemetryExporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry_exporter must be \"grpc\" or \"http\", got %q", cfg.TelemetryExporter)
		}
		if cfg.TelemetryEndpoint == "" {
			return fmt.Errorf("telemetry_endpoint must be set when telemetry is enabled")
		}
	}
	return nil
}
