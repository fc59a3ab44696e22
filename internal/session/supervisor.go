// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxlabs/voxgate/internal/admission"
	"github.com/voxlabs/voxgate/internal/gpu"
	"github.com/voxlabs/voxgate/internal/log"
	"github.com/voxlabs/voxgate/internal/metrics"
	"github.com/voxlabs/voxgate/internal/stt"
)

// Phase is the supervisor's lifecycle phase. Transitions are strictly
// ordered; Closed is terminal.
type Phase int32

const (
	PhaseAdmitted Phase = iota
	PhaseEngineReady
	PhaseActive
	PhaseDraining
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAdmitted:
		return "admitted"
	case PhaseEngineReady:
		return "engine_ready"
	case PhaseActive:
		return "active"
	case PhaseDraining:
		return "draining"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StatsFunc produces the payload for a get_stats reply.
type StatsFunc func() any

// Config carries the supervisor tunables.
type Config struct {
	// BreakerThreshold is the consecutive processing failure count that
	// terminates the session.
	BreakerThreshold int
	// ReportedErrorCap bounds how many of those failures are individually
	// reported to the client.
	ReportedErrorCap int
	// PollInterval paces the output-delivery loop.
	PollInterval time.Duration
	// DrainGrace is how long teardown waits for in-flight deliveries.
	DrainGrace time.Duration
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() Config {
	return Config{
		BreakerThreshold: 5,
		ReportedErrorCap: 3,
		PollInterval:     100 * time.Millisecond,
		DrainGrace:       100 * time.Millisecond,
	}
}

// Supervisor drives one admitted session from device allocation to guaranteed
// teardown. It exclusively owns its session state; nothing here is shared
// across sessions.
type Supervisor struct {
	id        string
	transport Transport
	allocator *gpu.Allocator
	permit    *admission.Permit
	factory   stt.Factory
	stats     StatsFunc
	cfg       Config
	logger    zerolog.Logger

	phase    atomic.Int32
	deviceID int
	engine   stt.Engine

	chunksProcessed atomic.Int64
	transcripts     atomic.Int64
	consecErrors    int

	sendMu        sync.Mutex
	transportGone atomic.Bool
	terminalSent  atomic.Bool
	closeOnce     sync.Once
}

// New creates a supervisor for an already admitted session. permit must be
// held; the supervisor takes over responsibility for releasing it.
func New(id string, transport Transport, allocator *gpu.Allocator, permit *admission.Permit, factory stt.Factory, stats StatsFunc, cfg Config) *Supervisor {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultConfig().BreakerThreshold
	}
	if cfg.ReportedErrorCap <= 0 {
		cfg.ReportedErrorCap = DefaultConfig().ReportedErrorCap
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = DefaultConfig().DrainGrace
	}
	return &Supervisor{
		id:        id,
		transport: transport,
		allocator: allocator,
		permit:    permit,
		factory:   factory,
		stats:     stats,
		cfg:       cfg,
		deviceID:  -1,
		logger:    log.WithComponent("session").With().Str("session_id", id).Logger(),
	}
}

// Phase returns the current lifecycle phase.
func (s *Supervisor) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Supervisor) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// Run drives the session to completion. It always returns with the device
// and the permit released, in that order, no matter how the session ended.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.close()
	start := time.Now()

	// Admitted: the permit is held, bind a device or bail out before any
	// engine resource exists.
	s.setPhase(PhaseAdmitted)
	deviceID, err := s.allocator.Allocate(s.id)
	if err != nil {
		metrics.RecordReject("no_capacity")
		s.sendTerminal(CodeResourceUnavailable, "No GPU resources available, please try again later")
		return
	}
	s.deviceID = deviceID
	s.logger.Info().
		Str("event", "session.allocated").
		Int("device", deviceID).
		Msg("session bound to GPU")

	// EngineReady: construct the dedicated engine for this session.
	s.setPhase(PhaseEngineReady)
	cbs := &engineCallbacks{sup: s}
	engine, err := s.factory(ctx, stt.Options{
		DeviceID: deviceID,
		Callbacks: stt.Callbacks{
			OnRealtime:    cbs.realtime,
			OnSpeechStart: cbs.speechStart,
			OnSpeechEnd:   cbs.speechEnd,
		},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event", "session.engine_create_failed").Msg("failed to create STT engine")
		s.sendTerminal(CodeInitializationError, "Failed to initialize speech recognition")
		return
	}
	s.engine = engine

	if err := engine.Start(); err != nil {
		s.logger.Error().Err(err).Str("event", "session.engine_start_failed").Msg("failed to start STT engine")
		s.sendTerminal(CodeInitializationError, "Failed to initialize speech recognition")
		s.drain(nil, nil)
		return
	}

	// Active: feed input as it arrives, deliver output independently.
	s.setPhase(PhaseActive)
	s.send(statusEvent("ready", "STT engine ready to process audio"))

	deliveryCtx, cancelDelivery := context.WithCancel(ctx)
	deliveryDone := make(chan struct{})
	go s.deliveryLoop(deliveryCtx, deliveryDone)

	s.readLoop(ctx)

	s.drain(cancelDelivery, deliveryDone)

	s.logger.Info().
		Str("event", "session.closed").
		Dur("duration", time.Since(start)).
		Int64("chunks_processed", s.chunksProcessed.Load()).
		Msg("session finished")
}

// readLoop consumes transport messages until disconnect, a stop command, a
// circuit breaker trip, or context cancellation.
func (s *Supervisor) readLoop(ctx context.Context) {
	for {
		payload, err := s.transport.Receive()
		if err != nil {
			if !errors.Is(err, ErrDisconnected) {
				s.logger.Warn().Err(err).Str("event", "session.receive_failed").Msg("transport receive failed")
			}
			s.transportGone.Store(true)
			return
		}
		if ctx.Err() != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.send(ErrorEvent(CodeInvalidMessage, "Message is not valid JSON"))
			continue
		}

		switch msg.Type {
		case MessageAudio:
			if tripped := s.handleAudio(msg); tripped {
				return
			}
		case MessageCommand:
			if stop := s.handleCommand(msg); stop {
				return
			}
		default:
			// Unknown message types are ignored, not fatal.
		}
	}
}

// handleAudio feeds one chunk and advances the circuit breaker. Returns true
// when the breaker tripped and the session must drain.
func (s *Supervisor) handleAudio(msg Message) bool {
	rate := msg.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}

	samples, err := decodeAudioChunk(msg.Data)
	if err == nil {
		err = s.engine.Feed(samples, rate)
	}
	if err != nil {
		s.consecErrors++
		s.logger.Warn().
			Err(err).
			Str("event", "session.audio_error").
			Int("consecutive", s.consecErrors).
			Msg("audio chunk failed")

		// Report the first few failures individually; beyond the cap they are
		// counted but not reported, bounding output under sustained failure.
		if s.consecErrors <= s.cfg.ReportedErrorCap {
			s.send(ErrorEvent(CodeAudioProcessingError, fmt.Sprintf("Error processing audio: %s", truncate(err.Error(), 100))))
		}
		if s.consecErrors >= s.cfg.BreakerThreshold {
			metrics.RecordBreakerTrip()
			s.logger.Warn().
				Str("event", "session.breaker_tripped").
				Int("failures", s.consecErrors).
				Msg("too many consecutive audio errors, terminating session")
			s.sendTerminal(CodeConnectionTerminated, "Too many audio processing errors")
			return true
		}
		return false
	}

	s.consecErrors = 0
	s.chunksProcessed.Add(1)
	metrics.AudioChunksTotal.Inc()
	return false
}

// handleCommand reacts to a command message. Returns true for stop.
func (s *Supervisor) handleCommand(msg Message) bool {
	switch msg.Command {
	case CommandStop:
		s.send(statusEvent("stopped", "Session ended by client request"))
		return true
	case CommandPing:
		s.send(pongEvent())
	case CommandStats:
		if s.stats != nil {
			s.send(statsEvent(s.stats()))
		}
	default:
		// Unknown commands are ignored.
	}
	return false
}

// deliveryLoop polls the engine for completed transcriptions and forwards
// them, decoupled from input arrival cadence. Cancellation is a normal exit:
// one final poll drains transcripts completed just before teardown.
func (s *Supervisor) deliveryLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	deliver := func(text string) {
		if text == "" {
			return
		}
		n := s.transcripts.Add(1)
		s.send(completedEvent(text, fmt.Sprintf("%s_%d", s.id, n)))
	}

	for {
		select {
		case <-ctx.Done():
			s.engine.PollCompleted(deliver)
			return
		case <-ticker.C:
			s.engine.PollCompleted(deliver)
		}
	}
}

// drain enters the Draining phase: cancel the delivery loop, give in-flight
// deliveries a grace period, then stop the engine.
func (s *Supervisor) drain(cancelDelivery context.CancelFunc, deliveryDone <-chan struct{}) {
	s.setPhase(PhaseDraining)

	if cancelDelivery != nil {
		cancelDelivery()
		select {
		case <-deliveryDone:
		case <-time.After(s.cfg.DrainGrace):
			s.logger.Debug().Str("event", "session.drain_grace_expired").Msg("abandoning in-flight deliveries")
		}
	}

	if s.engine != nil {
		if err := s.engine.Stop(); err != nil {
			s.logger.Error().Err(err).Str("event", "session.engine_stop_failed").Msg("failed to stop STT engine")
		}
	}
}

// close releases the device and then the permit, exactly once, independent of
// how the session ended. This must run even when engine teardown failed.
func (s *Supervisor) close() {
	s.closeOnce.Do(func() {
		s.setPhase(PhaseClosed)
		s.allocator.Release(s.id)
		s.permit.Release()
	})
}

// send marshals and delivers one event. Failures on a dead transport are
// dropped silently; anything else is logged and the transport marked gone.
func (s *Supervisor) send(ev Event) {
	if s.transportGone.Load() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event", "session.encode_failed").Msg("failed to encode event")
		return
	}

	s.sendMu.Lock()
	err = s.transport.Send(payload)
	s.sendMu.Unlock()
	if err != nil {
		s.transportGone.Store(true)
		if !errors.Is(err, ErrDisconnected) {
			s.logger.Warn().Err(err).Str("event", "session.send_failed").Msg("failed to send event")
		}
	}
}

// sendTerminal delivers at most one terminal error event per session.
func (s *Supervisor) sendTerminal(code ErrorCode, message string) {
	if s.terminalSent.Swap(true) {
		return
	}
	s.send(ErrorEvent(code, message))
}

// engineCallbacks binds engine callbacks to their owning supervisor through
// an explicit back-reference instead of ad-hoc closures over session state.
type engineCallbacks struct {
	sup *Supervisor
}

func (c *engineCallbacks) realtime(text string) {
	n := c.sup.transcripts.Add(1)
	c.sup.send(realtimeEvent(text, fmt.Sprintf("%s_%d", c.sup.id, n)))
}

func (c *engineCallbacks) speechStart() {
	c.sup.logger.Debug().Str("event", "session.recording_started").Msg("recording started")
	c.sup.send(statusEvent("recording_started", ""))
}

func (c *engineCallbacks) speechEnd() {
	c.sup.logger.Debug().Str("event", "session.recording_stopped").Msg("recording stopped")
	c.sup.send(statusEvent("recording_stopped", ""))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
