// SPDX-License-Identifier: MIT

package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// speechThreshold is the absolute sample amplitude above which a chunk counts
// as speech for the loopback segmenter.
const speechThreshold = 0.05

// Loopback is a deterministic in-process Engine used when no real inference
// runtime is configured, and by tests. It segments fed audio on silence gaps
// and emits synthetic transcripts describing each segment.
type Loopback struct {
	deviceID int
	cbs      Callbacks

	mu         sync.Mutex
	started    bool
	stopped    bool
	inSpeech   bool
	segIndex   int
	segSamples int
	segRate    int
	completed  []string
}

// NewLoopback creates a loopback engine honoring the device hint for
// traceability only.
func NewLoopback(opts Options) *Loopback {
	return &Loopback{deviceID: opts.DeviceID, cbs: opts.Callbacks}
}

// LoopbackFactory returns a Factory producing loopback engines.
func LoopbackFactory() Factory {
	return func(_ context.Context, opts Options) (Engine, error) {
		return NewLoopback(opts), nil
	}
}

// Start marks the engine ready. Feeding before Start is an error.
func (l *Loopback) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return errors.New("loopback engine already stopped")
	}
	l.started = true
	return nil
}

// Feed classifies the chunk as speech or silence and advances the segmenter.
// A silence chunk after speech finalizes the running segment into a completed
// transcript.
func (l *Loopback) Feed(samples []float32, sampleRate int) error {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return errors.New("loopback engine is not running")
	}
	if len(samples) == 0 {
		l.mu.Unlock()
		return errors.New("empty audio chunk")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	speech := false
	for _, s := range samples {
		if s > speechThreshold || s < -speechThreshold {
			speech = true
			break
		}
	}

	var fire func()
	switch {
	case speech:
		startOfSpeech := !l.inSpeech
		if startOfSpeech {
			l.inSpeech = true
			l.segIndex++
			l.segSamples = 0
			l.segRate = sampleRate
		}
		l.segSamples += len(samples)
		idx, n, rate := l.segIndex, l.segSamples, l.segRate
		onStart, onRealtime := l.cbs.OnSpeechStart, l.cbs.OnRealtime
		fire = func() {
			if startOfSpeech && onStart != nil {
				onStart()
			}
			if onRealtime != nil {
				onRealtime(segmentText(idx, n, rate))
			}
		}
	case l.inSpeech:
		l.inSpeech = false
		l.completed = append(l.completed, segmentText(l.segIndex, l.segSamples, l.segRate))
		onEnd := l.cbs.OnSpeechEnd
		fire = func() {
			if onEnd != nil {
				onEnd()
			}
		}
	}
	l.mu.Unlock()

	// Callbacks run outside the lock so they may call back into the engine.
	if fire != nil {
		fire()
	}
	return nil
}

// PollCompleted drains finished transcripts, invoking fn once per transcript
// in order. Non-blocking.
func (l *Loopback) PollCompleted(fn func(text string)) {
	l.mu.Lock()
	drained := l.completed
	l.completed = nil
	l.mu.Unlock()

	for _, text := range drained {
		fn(text)
	}
}

// Stop finalizes any running segment and shuts the engine down. Idempotent.
func (l *Loopback) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return nil
	}
	if l.inSpeech {
		l.completed = append(l.completed, segmentText(l.segIndex, l.segSamples, l.segRate))
		l.inSpeech = false
	}
	l.stopped = true
	l.started = false
	return nil
}

func segmentText(index, samples, rate int) string {
	return fmt.Sprintf("segment %d: %.2fs of speech", index, float64(samples)/float64(rate))
}
