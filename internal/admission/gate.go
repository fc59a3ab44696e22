// SPDX-License-Identifier: MIT

// Package admission bounds the number of concurrently active sessions.
package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/voxlabs/voxgate/internal/log"
	"github.com/voxlabs/voxgate/internal/metrics"
)

// ErrTimeout is returned when no permit became free within the wait budget.
var ErrTimeout = errors.New("timed out waiting for a connection permit")

// Counters holds the process-wide connection counters. TotalAdmitted and
// TotalFailed are monotonic; CurrentActive moves with admissions and
// releases and never goes negative.
type Counters struct {
	TotalAdmitted int64 `json:"total_connections"`
	TotalFailed   int64 `json:"failed_connections"`
	CurrentActive int64 `json:"active_connections"`
}

// Gate is a counting permit bounding concurrent sessions. Permits are a hard
// ceiling independent of device capacity: the allocator may still refuse a
// session the gate admitted, and both checks are required.
type Gate struct {
	sem    *semaphore.Weighted
	max    int64
	logger zerolog.Logger

	admitted atomic.Int64
	failed   atomic.Int64
	active   atomic.Int64
}

// NewGate creates a gate with maxConnections permits.
func NewGate(maxConnections int) *Gate {
	return &Gate{
		sem:    semaphore.NewWeighted(int64(maxConnections)),
		max:    int64(maxConnections),
		logger: log.WithComponent("admission"),
	}
}

// TryAdmit acquires one permit, waiting up to timeout. On expiry it returns
// ErrTimeout with no side effects. The returned permit's Release is mandatory
// on every exit path.
func (g *Gate) TryAdmit(ctx context.Context, timeout time.Duration) (*Permit, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			// The caller went away while waiting; not a capacity problem.
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}

	g.admitted.Add(1)
	active := g.active.Add(1)
	metrics.RecordAdmit()
	metrics.SetActiveSessions(float64(active))
	return &Permit{gate: g}, nil
}

// RecordFailure bumps the failed-connection counter for sessions that were
// rejected or died before normal teardown.
func (g *Gate) RecordFailure() {
	g.failed.Add(1)
}

// Counters returns a consistent-enough copy of the connection counters.
func (g *Gate) Counters() Counters {
	return Counters{
		TotalAdmitted: g.admitted.Load(),
		TotalFailed:   g.failed.Load(),
		CurrentActive: g.active.Load(),
	}
}

// MaxConnections returns the permit ceiling.
func (g *Gate) MaxConnections() int {
	return int(g.max)
}

// Permit is one held admission slot. Release is idempotent so that every
// teardown path can call it without coordination.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the permit to the gate. Safe to call more than once; only
// the first call has an effect.
func (p *Permit) Release() {
	p.once.Do(func() {
		active := p.gate.active.Add(-1)
		if active < 0 {
			// Must be unreachable: Release is guarded by once.
			p.gate.logger.Error().
				Str("event", "admission.counter_underflow").
				Int64("active", active).
				Msg("active connection counter went negative")
		}
		metrics.SetActiveSessions(float64(active))
		p.gate.sem.Release(1)
	})
}
