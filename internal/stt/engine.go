// SPDX-License-Identifier: MIT

// Package stt defines the speech-to-text engine contract consumed by session
// supervisors. The actual inference runtime is an external collaborator; this
// package models its lifecycle: create, feed input, poll completed output,
// stop.
package stt

import "context"

// Callbacks are invoked by an engine as recognition progresses. They are
// registered at construction so every engine instance is bound to exactly one
// session; implementations must tolerate nil members.
type Callbacks struct {
	// OnRealtime delivers partial transcription updates.
	OnRealtime func(text string)
	// OnSpeechStart fires when the engine detects start of speech activity.
	OnSpeechStart func()
	// OnSpeechEnd fires when the engine detects end of speech activity.
	OnSpeechEnd func()
}

// Options configure a new engine instance.
type Options struct {
	// DeviceID is the GPU the engine should bind to, or -1 for no hint.
	DeviceID  int
	Callbacks Callbacks
}

// Engine is one session's dedicated recognition instance.
type Engine interface {
	// Start makes the engine ready to accept audio.
	Start() error
	// Feed pushes one chunk of mono float32 samples in [-1, 1].
	Feed(samples []float32, sampleRate int) error
	// PollCompleted invokes fn once per finished transcription available so
	// far. It never blocks waiting for output.
	PollCompleted(fn func(text string))
	// Stop tears the engine down. Idempotent.
	Stop() error
}

// Factory creates engine instances. Construction may fail, for example when
// the device hint points at an exhausted GPU.
type Factory func(ctx context.Context, opts Options) (Engine, error)
