// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the voxgate admission,
// allocation and session subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission counters

	// AdmitTotal counts successful admissions.
	AdmitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_admission_admit_total",
		Help: "Total number of admitted sessions.",
	})

	// RejectTotal counts rejected admissions by reason.
	// Reasons: "timeout", "no_capacity", "internal_error".
	RejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxgate_admission_reject_total",
		Help: "Total number of rejected session requests, by reason.",
	}, []string{"reason"})

	// ActiveSessions tracks the number of currently admitted sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxgate_active_sessions",
		Help: "Current number of active sessions.",
	})

	// Session counters

	// AudioChunksTotal counts audio chunks fed to engines.
	AudioChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_audio_chunks_total",
		Help: "Total number of audio chunks fed to STT engines.",
	})

	// BreakerTripsTotal counts circuit breaker trips across all sessions.
	BreakerTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_breaker_trips_total",
		Help: "Total number of per-session circuit breaker trips.",
	})

	// GPU gauges, labelled by device id

	// GPUMemoryUsedBytes tracks used device memory.
	GPUMemoryUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxgate_gpu_memory_used_bytes",
		Help: "Used GPU memory in bytes, by device.",
	}, []string{"device"})

	// GPUMemoryTotalBytes tracks total device memory.
	GPUMemoryTotalBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxgate_gpu_memory_total_bytes",
		Help: "Total GPU memory in bytes, by device.",
	}, []string{"device"})

	// GPUUtilization tracks device utilization percent.
	GPUUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxgate_gpu_utilization_percent",
		Help: "GPU utilization percentage, by device.",
	}, []string{"device"})

	// GPUTemperature tracks device temperature in Celsius.
	GPUTemperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxgate_gpu_temperature_celsius",
		Help: "GPU temperature in Celsius, by device.",
	}, []string{"device"})

	// GPUAvailable is 1 when the device accepts new sessions, 0 otherwise.
	GPUAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxgate_gpu_available",
		Help: "Whether the device is available for new sessions (1/0), by device.",
	}, []string{"device"})

	// GPUAllocations tracks sessions bound per device.
	GPUAllocations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxgate_gpu_allocations",
		Help: "Current number of sessions bound to each device.",
	}, []string{"device"})

	// SampleFailuresTotal counts stats source sampling failures.
	SampleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxgate_gpu_sample_failures_total",
		Help: "Total number of GPU stats sampling failures.",
	})

	// ThresholdAlertsTotal counts threshold breaches by kind.
	// Kinds: "memory", "utilization", "temperature".
	ThresholdAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxgate_gpu_threshold_alerts_total",
		Help: "Total number of GPU threshold alerts, by kind.",
	}, []string{"kind"})
)

// RecordAdmit increments the admission counter.
func RecordAdmit() {
	AdmitTotal.Inc()
}

// RecordReject increments the rejection counter for the given reason.
func RecordReject(reason string) {
	RejectTotal.WithLabelValues(reason).Inc()
}

// SetActiveSessions updates the active session gauge.
func SetActiveSessions(n float64) {
	ActiveSessions.Set(n)
}

// RecordBreakerTrip increments the circuit breaker trip counter.
func RecordBreakerTrip() {
	BreakerTripsTotal.Inc()
}

// RecordThresholdAlert increments the threshold alert counter for the given kind.
func RecordThresholdAlert(kind string) {
	ThresholdAlertsTotal.WithLabelValues(kind).Inc()
}
