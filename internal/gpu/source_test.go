// SPDX-License-Identifier: MIT

package gpu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSMIOutput(t *testing.T) {
	out := "0, 2048, 12288, 35, 61, 142.5, 250.0\n" +
		"1, 8192, 12288, 90, 78, 210.0, 250.0\n"

	stats := parseSMIOutput(out)
	require.Len(t, stats, 2)

	assert.Equal(t, uint64(2048)*mib, stats[0].MemoryUsed)
	assert.Equal(t, uint64(12288)*mib, stats[0].MemoryTotal)
	assert.Equal(t, 35.0, stats[0].Utilization)
	assert.Equal(t, 61, stats[0].Temperature)
	assert.Equal(t, 142.5, stats[0].PowerDraw)
	assert.Equal(t, 250.0, stats[1].PowerLimit)
}

func TestParseSMIOutputSkipsMalformedLines(t *testing.T) {
	out := "garbage line\n" +
		"0, 1024, 12288, 10, 50, 100, 250\n" +
		"x, 1, 2, 3, 4, 5, 6\n" +
		"1, not-a-number, 12288, 10, 50, 100, 250\n"

	stats := parseSMIOutput(out)
	require.Len(t, stats, 1)
	assert.Contains(t, stats, 0)
}

func TestParseSMIOutputToleratesMissingPowerReadings(t *testing.T) {
	stats := parseSMIOutput("0, 1024, 12288, 10, 50, [N/A], [N/A]\n")
	require.Len(t, stats, 1)
	assert.Equal(t, 0.0, stats[0].PowerDraw)
	assert.Equal(t, 0.0, stats[0].PowerLimit)
}

func TestHeuristicSourceEstimatesFromAllocations(t *testing.T) {
	active := 4
	src := &HeuristicSource{
		ActiveAllocations: func() int { return active },
		PerSessionBytes:   500 * mib,
		TotalBytes:        12288 * mib,
	}

	stats, err := src.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)

	s := stats[0]
	assert.Equal(t, uint64(2000)*mib, s.MemoryUsed)
	assert.Equal(t, uint64(12288)*mib, s.MemoryTotal)
	assert.InDelta(t, float64(4)/15*100, s.Utilization, 0.001)
	assert.Equal(t, 65, s.Temperature)
}

func TestHeuristicSourceCapsEstimates(t *testing.T) {
	src := &HeuristicSource{
		ActiveAllocations: func() int { return 100 },
		PerSessionBytes:   500 * mib,
		TotalBytes:        12288 * mib,
	}

	stats, err := src.Sample(context.Background())
	require.NoError(t, err)

	s := stats[0]
	assert.Equal(t, s.MemoryTotal, s.MemoryUsed, "estimated usage is capped at capacity")
	assert.Equal(t, 95.0, s.Utilization, "estimated utilization is capped at 95")
}
