// SPDX-License-Identifier: MIT

package gpu

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/voxlabs/voxgate/internal/log"
)

// StatsSource samples device health. Implementations must honour the context
// deadline and return quickly; the monitor bounds every call with sampleTimeout.
type StatsSource interface {
	Sample(ctx context.Context) (map[int]Stats, error)
}

// sampleTimeout bounds a single stats probe, matching the subprocess timeout
// the external tool is invoked with.
const sampleTimeout = 5 * time.Second

const mib = 1024 * 1024

// SMISource queries device health via the nvidia-smi tool.
type SMISource struct {
	// Bin is the tool path; defaults to "nvidia-smi" on PATH.
	Bin string
}

func (s *SMISource) bin() string {
	if s.Bin != "" {
		return s.Bin
	}
	return "nvidia-smi"
}

// Probe reports whether the tool is present and answering. Used once at
// startup to pick between the native and heuristic sources.
func (s *SMISource) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.bin(), "--query-gpu=name", "--format=csv,noheader").Output()
	logger := log.WithComponent("gpu")
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "gpu.probe_failed").
			Msg("nvidia-smi not available, falling back to heuristic stats")
		return false
	}
	logger.Info().
		Str("event", "gpu.probe_ok").
		Str("devices", strings.TrimSpace(string(out))).
		Msg("nvidia-smi detected")
	return true
}

// Sample runs one nvidia-smi query and parses its CSV output. Malformed lines
// are skipped; an output with no parseable device is an error.
func (s *SMISource) Sample(ctx context.Context) (map[int]Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, sampleTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.bin(),
		"--query-gpu=index,memory.used,memory.total,utilization.gpu,temperature.gpu,power.draw,power.limit",
		"--format=csv,noheader,nounits",
	).Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi query: %w", err)
	}

	stats := parseSMIOutput(string(out))
	if len(stats) == 0 {
		return nil, errors.New("nvidia-smi returned no parseable devices")
	}
	return stats, nil
}

func parseSMIOutput(out string) map[int]Stats {
	stats := make(map[int]Stats)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 7 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		id, err := strconv.Atoi(fields[0])
		if err != nil || id < 0 {
			continue
		}
		memUsed, err1 := strconv.ParseFloat(fields[1], 64)
		memTotal, err2 := strconv.ParseFloat(fields[2], 64)
		util, err3 := strconv.ParseFloat(fields[3], 64)
		temp, err4 := strconv.ParseFloat(fields[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		// power.draw/power.limit report "[N/A]" on some boards; treat as zero.
		power, _ := strconv.ParseFloat(fields[5], 64)
		limit, _ := strconv.ParseFloat(fields[6], 64)

		stats[id] = Stats{
			DeviceID:    id,
			MemoryUsed:  uint64(memUsed) * mib,
			MemoryTotal: uint64(memTotal) * mib,
			Utilization: util,
			Temperature: int(temp),
			PowerDraw:   power,
			PowerLimit:  limit,
		}
	}
	return stats
}

// HeuristicSource synthesizes a single-device estimate from the current
// allocation count when no real probe is available. It trades accuracy for
// availability and never fails.
type HeuristicSource struct {
	// ActiveAllocations reports how many sessions currently hold a device.
	ActiveAllocations func() int
	// PerSessionBytes is the estimated memory cost of one session.
	PerSessionBytes uint64
	// TotalBytes is the assumed capacity of the synthetic device.
	TotalBytes uint64
}

// Sample returns the synthetic estimate for device 0.
func (h *HeuristicSource) Sample(_ context.Context) (map[int]Stats, error) {
	active := 0
	if h.ActiveAllocations != nil {
		active = h.ActiveAllocations()
	}

	used := uint64(active) * h.PerSessionBytes
	if used > h.TotalBytes {
		used = h.TotalBytes
	}

	// 15 concurrent sessions saturate the synthetic device.
	util := float64(active) / 15 * 100
	if util > 95 {
		util = 95
	}

	return map[int]Stats{
		0: {
			DeviceID:    0,
			MemoryUsed:  used,
			MemoryTotal: h.TotalBytes,
			Utilization: util,
			Temperature: 65,
			PowerDraw:   150,
			PowerLimit:  250,
		},
	}, nil
}
