// SPDX-License-Identifier: MIT

package gpu

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/voxlabs/voxgate/internal/log"
	"github.com/voxlabs/voxgate/internal/metrics"
)

// historyCapacity bounds the rolling snapshot history; the oldest record is
// evicted first.
const historyCapacity = 100

// HistoryRecord is one time-stamped full snapshot, kept for observability
// only; it has no effect on allocation decisions.
type HistoryRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Devices   map[int]statsJSON `json:"gpus"`
}

// MonitorConfig carries the monitor's tunables.
type MonitorConfig struct {
	Period     time.Duration
	Thresholds Thresholds
	// StatsPath, when set, receives the latest history record as an atomically
	// replaced JSON file for external consumption.
	StatsPath string
}

// Monitor owns the process-wide device health state. It runs a periodic
// sampling loop, publishes immutable snapshots, retains a bounded history and
// raises threshold alerts. Sampling failures are absorbed: the previous
// known-good snapshot keeps being served, and before any good sample exists a
// heuristic estimate stands in.
type Monitor struct {
	src      StatsSource
	fallback *HeuristicSource
	clk      clock.Clock
	logger   zerolog.Logger
	alerts   *rate.Limiter

	mu         sync.RWMutex
	cfg        MonitorConfig
	snapshot   map[int]Stats
	history    []HistoryRecord
	lastSample time.Time
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithClock injects a clock, letting tests drive the sampling loop.
func WithClock(c clock.Clock) MonitorOption {
	return func(m *Monitor) { m.clk = c }
}

// NewMonitor creates a monitor backed by src, with fallback standing in until
// the first successful sample.
func NewMonitor(src StatsSource, fallback *HeuristicSource, cfg MonitorConfig, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		src:      src,
		fallback: fallback,
		clk:      clock.New(),
		logger:   log.WithComponent("gpu-monitor"),
		// Bounds alert log volume under sustained threshold breaches.
		alerts: rate.NewLimiter(rate.Every(10*time.Second), 6),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the periodic sampling loop. It is idempotent: calling Start on
// a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	period := m.cfg.Period
	m.mu.Unlock()

	go m.loop(ctx, period)
	m.logger.Info().Str("event", "monitor.started").Dur("period", period).Msg("GPU monitoring started")
}

// Stop cancels the sampling loop and waits for it to exit. Idempotent. The
// last published snapshot stays intact.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info().Str("event", "monitor.stopped").Msg("GPU monitoring stopped")
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// SetThresholds swaps the availability thresholds; the next sample uses them.
func (m *Monitor) SetThresholds(t Thresholds) {
	m.mu.Lock()
	m.cfg.Thresholds = t
	m.mu.Unlock()
}

// Snapshot returns a copy of the latest device health mapping. It never
// blocks and is never empty after the first sample.
func (m *Monitor) Snapshot() map[int]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]Stats, len(m.snapshot))
	for id, s := range m.snapshot {
		out[id] = s
	}
	return out
}

// History returns a copy of the bounded snapshot history, oldest first.
func (m *Monitor) History() []HistoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]HistoryRecord, len(m.history))
	copy(out, m.history)
	return out
}

// LastSample returns the time of the most recent published snapshot.
func (m *Monitor) LastSample() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSample
}

func (m *Monitor) loop(ctx context.Context, period time.Duration) {
	defer close(m.done)

	m.tick(ctx)

	ticker := m.clk.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one sampling iteration. Alerting and persistence failures are
// logged and swallowed so the loop always reaches the next sleep.
func (m *Monitor) tick(ctx context.Context) {
	stats, err := m.src.Sample(ctx)
	if err != nil {
		metrics.SampleFailuresTotal.Inc()
		m.logger.Warn().Err(err).Str("event", "monitor.sample_failed").Msg("stats sampling failed")

		// Stale-but-served: republish the previous known-good snapshot, or a
		// heuristic estimate before any good sample exists.
		m.mu.RLock()
		prev := m.snapshot
		m.mu.RUnlock()
		if len(prev) > 0 {
			stats = prev
		} else if stats, err = m.fallback.Sample(ctx); err != nil {
			// The heuristic source never fails; this is unreachable.
			return
		}
	}

	record := m.publish(stats)
	m.checkAlerts(stats)

	if err := m.persist(record); err != nil {
		m.logger.Warn().Err(err).Str("event", "monitor.persist_failed").Msg("failed to write stats file")
	}
}

// publish derives availability, swaps the snapshot wholesale, appends to the
// history ring and updates the device gauges.
func (m *Monitor) publish(raw map[int]Stats) HistoryRecord {
	m.mu.Lock()

	next := make(map[int]Stats, len(raw))
	devices := make(map[int]statsJSON, len(raw))
	for id, s := range raw {
		s.Available = m.cfg.Thresholds.Admissible(s)
		next[id] = s
		devices[id] = statsJSON{
			Stats:             s,
			MemoryFree:        s.MemoryFree(),
			MemoryUsedPercent: s.MemoryUsedPercent(),
		}
	}

	record := HistoryRecord{Timestamp: m.clk.Now(), Devices: devices}
	m.snapshot = next
	m.lastSample = record.Timestamp
	m.history = append(m.history, record)
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}
	m.mu.Unlock()

	for id, s := range next {
		label := strconv.Itoa(id)
		metrics.GPUMemoryUsedBytes.WithLabelValues(label).Set(float64(s.MemoryUsed))
		metrics.GPUMemoryTotalBytes.WithLabelValues(label).Set(float64(s.MemoryTotal))
		metrics.GPUUtilization.WithLabelValues(label).Set(s.Utilization)
		metrics.GPUTemperature.WithLabelValues(label).Set(float64(s.Temperature))
		if s.Available {
			metrics.GPUAvailable.WithLabelValues(label).Set(1)
		} else {
			metrics.GPUAvailable.WithLabelValues(label).Set(0)
		}
	}

	return record
}

// checkAlerts emits one alert per breached threshold per device; a device may
// trigger several at once.
func (m *Monitor) checkAlerts(stats map[int]Stats) {
	m.mu.RLock()
	t := m.cfg.Thresholds
	m.mu.RUnlock()

	for id, s := range stats {
		if s.MemoryUsedPercent() >= t.MemoryPercent {
			metrics.RecordThresholdAlert("memory")
			if m.alerts.Allow() {
				m.logger.Warn().
					Str("event", "monitor.alert").
					Int("device", id).
					Str("kind", "memory").
					Float64("used_percent", s.MemoryUsedPercent()).
					Msg("GPU memory usage high")
			}
		}
		if s.Utilization >= t.UtilizationPercent {
			metrics.RecordThresholdAlert("utilization")
			if m.alerts.Allow() {
				m.logger.Warn().
					Str("event", "monitor.alert").
					Int("device", id).
					Str("kind", "utilization").
					Float64("utilization", s.Utilization).
					Msg("GPU utilization high")
			}
		}
		if float64(s.Temperature) >= float64(t.TemperatureCelsius) {
			metrics.RecordThresholdAlert("temperature")
			if m.alerts.Allow() {
				m.logger.Warn().
					Str("event", "monitor.alert").
					Int("device", id).
					Str("kind", "temperature").
					Int("temperature", s.Temperature).
					Msg("GPU temperature high")
			}
		}
	}
}

// persist atomically replaces the stats file with the latest record.
func (m *Monitor) persist(record HistoryRecord) error {
	m.mu.RLock()
	path := m.cfg.StatsPath
	m.mu.RUnlock()
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending stats file: %w", err)
	}
	defer func() {
		if cerr := pending.Cleanup(); cerr != nil {
			m.logger.Debug().Err(cerr).Msg("cleanup pending stats file")
		}
	}()

	if err := json.NewEncoder(pending).Encode(record); err != nil {
		return fmt.Errorf("encode stats record: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace stats file: %w", err)
	}
	return nil
}
