// SPDX-License-Identifier: MIT

// Package gpu provides GPU health sampling, the resource monitor, and the
// per-session device allocator.
package gpu

// Stats holds a single device's health metrics at one sampling instant.
// Values are replaced wholesale on every successful sample; a published Stats
// value is never mutated in place.
type Stats struct {
	DeviceID    int     `json:"device_id"`
	MemoryUsed  uint64  `json:"memory_used_bytes"`
	MemoryTotal uint64  `json:"memory_total_bytes"`
	Utilization float64 `json:"utilization_percent"`
	Temperature int     `json:"temperature_celsius"`
	PowerDraw   float64 `json:"power_draw_watts"`
	PowerLimit  float64 `json:"power_limit_watts"`
	Available   bool    `json:"available_for_new_sessions"`
}

// MemoryFree returns the free device memory in bytes.
func (s Stats) MemoryFree() uint64 {
	if s.MemoryUsed > s.MemoryTotal {
		return 0
	}
	return s.MemoryTotal - s.MemoryUsed
}

// MemoryUsedPercent returns memory usage as a percentage of total.
func (s Stats) MemoryUsedPercent() float64 {
	if s.MemoryTotal == 0 {
		return 0
	}
	return float64(s.MemoryUsed) / float64(s.MemoryTotal) * 100
}

// statsJSON is the wire form of Stats for history records and the stats file,
// carrying the derived fields alongside the raw ones.
type statsJSON struct {
	Stats
	MemoryFree        uint64  `json:"memory_free_bytes"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

// Thresholds gate whether a device may take new sessions and when alerts fire.
type Thresholds struct {
	// MemoryPercent is the used-memory percentage that triggers alerts.
	MemoryPercent float64
	// UtilizationPercent is the utilization ceiling for new sessions and alerts.
	UtilizationPercent float64
	// TemperatureCelsius is the temperature ceiling for new sessions and alerts.
	TemperatureCelsius int
	// PerSessionBytes is the estimated memory cost of one session.
	PerSessionBytes uint64
	// ReserveBytes is memory kept free regardless of demand.
	ReserveBytes uint64
}

// Admissible reports whether a device with the given stats can accept a new
// session under these thresholds. It is a pure function: the verdict is
// recomputed on every sample and never cached apart from the Stats it
// derives from.
func (t Thresholds) Admissible(s Stats) bool {
	return s.MemoryFree() >= t.PerSessionBytes+t.ReserveBytes &&
		s.Utilization < t.UtilizationPercent &&
		float64(s.Temperature) < float64(t.TemperatureCelsius)
}
