// SPDX-License-Identifier: MIT

// Package session supervises the lifecycle of one admitted client session:
// engine creation, audio feeding, output delivery, circuit-breaker triggered
// termination and guaranteed teardown.
package session

import "time"

// Inbound message types. Unknown types are ignored, not fatal.
const (
	MessageAudio   = "audio"
	MessageCommand = "command"
)

// Commands understood inside a "command" message.
const (
	CommandStop  = "stop"
	CommandPing  = "ping"
	CommandStats = "get_stats"
)

// Message is the client-to-server application message.
type Message struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`        // base64 int16 little-endian PCM for "audio"
	SampleRate int    `json:"sample_rate,omitempty"` // defaults to 16000
	Command    string `json:"command,omitempty"`
}

// ErrorCode identifies why a session was rejected or degraded.
type ErrorCode string

const (
	CodeResourceUnavailable  ErrorCode = "resource_unavailable"
	CodeServerBusy           ErrorCode = "server_busy"
	CodeServerError          ErrorCode = "server_error"
	CodeInitializationError  ErrorCode = "initialization_error"
	CodeAudioProcessingError ErrorCode = "audio_processing_error"
	CodeConnectionTerminated ErrorCode = "connection_terminated"
	CodeInvalidMessage       ErrorCode = "invalid_message"
	CodeMessageProcessing    ErrorCode = "message_processing_error"
)

// Event is the server-to-client application message. Type is one of
// "status", "error", "realtime", "completed", "stats", "pong".
type Event struct {
	Type      string    `json:"type"`
	Status    string    `json:"status,omitempty"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Text      string    `json:"text,omitempty"`
	ID        string    `json:"id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"`
}

func unixSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func statusEvent(status, message string) Event {
	return Event{Type: "status", Status: status, Message: message}
}

// ErrorEvent builds a standardized error event carrying an error code and a
// human-readable message.
func ErrorEvent(code ErrorCode, message string) Event {
	return Event{Type: "error", ErrorCode: code, Message: message, Timestamp: unixSeconds()}
}

func realtimeEvent(text, id string) Event {
	return Event{Type: "realtime", Text: text, ID: id}
}

func completedEvent(text, id string) Event {
	return Event{Type: "completed", Text: text, ID: id}
}

func pongEvent() Event {
	return Event{Type: "pong", Timestamp: unixSeconds()}
}

func statsEvent(data any) Event {
	return Event{Type: "stats", Data: data, Timestamp: unixSeconds()}
}
