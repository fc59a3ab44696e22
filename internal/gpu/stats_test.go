// SPDX-License-Identifier: MIT

package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryDerivations(t *testing.T) {
	s := Stats{MemoryUsed: 3000, MemoryTotal: 12000}
	assert.Equal(t, uint64(9000), s.MemoryFree())
	assert.InDelta(t, 25.0, s.MemoryUsedPercent(), 0.001)

	// Free memory never underflows even on inconsistent readings.
	s = Stats{MemoryUsed: 500, MemoryTotal: 400}
	assert.Equal(t, uint64(0), s.MemoryFree())

	s = Stats{MemoryTotal: 0}
	assert.Equal(t, 0.0, s.MemoryUsedPercent())
}

func TestAdmissibleMemoryReserve(t *testing.T) {
	thresholds := Thresholds{
		UtilizationPercent: 95,
		TemperatureCelsius: 85,
		PerSessionBytes:    500,
		ReserveBytes:       1000,
	}

	// free = 400 < 500 + 1000: never admissible.
	tight := Stats{MemoryUsed: 9600, MemoryTotal: 10000, Utilization: 10, Temperature: 40}
	assert.False(t, thresholds.Admissible(tight))

	// free = 2000 >= 1500 with utilization and temperature in bounds.
	roomy := Stats{MemoryUsed: 8000, MemoryTotal: 10000, Utilization: 10, Temperature: 40}
	assert.True(t, thresholds.Admissible(roomy))
}

func TestAdmissibleUtilizationAndTemperatureCeilings(t *testing.T) {
	thresholds := Thresholds{
		UtilizationPercent: 95,
		TemperatureCelsius: 85,
		PerSessionBytes:    500,
		ReserveBytes:       1000,
	}
	base := Stats{MemoryUsed: 0, MemoryTotal: 10000, Utilization: 10, Temperature: 40}

	hot := base
	hot.Temperature = 85
	assert.False(t, thresholds.Admissible(hot), "temperature at ceiling is not admissible")

	busy := base
	busy.Utilization = 95
	assert.False(t, thresholds.Admissible(busy), "utilization at ceiling is not admissible")

	assert.True(t, thresholds.Admissible(base))
}
