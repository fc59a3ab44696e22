// SPDX-License-Identifier: MIT

package gpu

import (
	"errors"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxlabs/voxgate/internal/log"
	"github.com/voxlabs/voxgate/internal/metrics"
)

// ErrNoCapacity is returned when no device can take another session.
var ErrNoCapacity = errors.New("no GPU capacity available")

// SnapshotProvider yields the latest device health mapping. The allocator
// never queries hardware itself; all decisions read one published snapshot.
type SnapshotProvider interface {
	Snapshot() map[int]Stats
}

// Allocator binds sessions to devices. It exclusively owns the session to
// device table; at most one device per session, entries removed on release.
type Allocator struct {
	provider SnapshotProvider
	logger   zerolog.Logger

	mu    sync.Mutex
	table map[string]int
}

// NewAllocator creates an allocator reading availability from provider.
func NewAllocator(provider SnapshotProvider) *Allocator {
	return &Allocator{
		provider: provider,
		logger:   log.WithComponent("allocator"),
		table:    make(map[string]int),
	}
}

// Allocate binds sessionID to the available device with the most free memory,
// ties broken by lowest device id. Re-allocating a bound session returns its
// existing device. Returns ErrNoCapacity, with no mutation, when no device
// qualifies.
func (a *Allocator) Allocate(sessionID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.table[sessionID]; ok {
		return id, nil
	}

	snapshot := a.provider.Snapshot()
	best := -1
	var bestFree uint64
	for id, s := range snapshot {
		if !s.Available {
			continue
		}
		free := s.MemoryFree()
		if best == -1 || free > bestFree || (free == bestFree && id < best) {
			best = id
			bestFree = free
		}
	}

	if best == -1 {
		a.logger.Warn().
			Str("event", "allocator.no_capacity").
			Str("session_id", sessionID).
			Int("devices", len(snapshot)).
			Msg("no available GPU for session")
		return 0, ErrNoCapacity
	}

	a.table[sessionID] = best
	metrics.GPUAllocations.WithLabelValues(strconv.Itoa(best)).Inc()
	a.logger.Info().
		Str("event", "allocator.bound").
		Str("session_id", sessionID).
		Int("device", best).
		Uint64("free_bytes", bestFree).
		Msg("allocated GPU for session")
	return best, nil
}

// Release removes the session's binding. Releasing an unknown session is a
// no-op so every teardown path can call it safely.
func (a *Allocator) Release(sessionID string) {
	a.mu.Lock()
	id, ok := a.table[sessionID]
	if ok {
		delete(a.table, sessionID)
	}
	a.mu.Unlock()

	if ok {
		metrics.GPUAllocations.WithLabelValues(strconv.Itoa(id)).Dec()
		a.logger.Info().
			Str("event", "allocator.released").
			Str("session_id", sessionID).
			Int("device", id).
			Msg("released GPU for session")
	}
}

// Count returns the number of sessions currently holding a device.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}

// Snapshot returns a read-only copy of the allocation table.
func (a *Allocator) Snapshot() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.table))
	for sid, id := range a.table {
		out[sid] = id
	}
	return out
}

// PerDeviceCounts returns how many sessions each device carries.
func (a *Allocator) PerDeviceCounts() map[int]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]int)
	for _, id := range a.table {
		out[id]++
	}
	return out
}
