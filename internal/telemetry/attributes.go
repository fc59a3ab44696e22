// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Session attributes
	SessionIDKey       = "session.id"
	SessionDeviceKey   = "session.device"
	SessionChunksKey   = "session.chunks"
	SessionDurationKey = "session.duration_ms"

	// GPU attributes
	GPUDeviceKey      = "gpu.device"
	GPUMemoryFreeKey  = "gpu.memory_free_bytes"
	GPUUtilizationKey = "gpu.utilization"
	GPUAvailableKey   = "gpu.available"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SessionAttributes creates session-related span attributes.
func SessionAttributes(sessionID string, device int, chunks, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Int(SessionDeviceKey, device),
		attribute.Int64(SessionChunksKey, chunks),
		attribute.Int64(SessionDurationKey, durationMS),
	}
}

// GPUAttributes creates device-related span attributes.
func GPUAttributes(device int, memoryFree uint64, utilization float64, available bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(GPUDeviceKey, device),
		attribute.Int64(GPUMemoryFreeKey, int64(memoryFree)), // #nosec G115 -- device memory fits in int64
		attribute.Float64(GPUUtilizationKey, utilization),
		attribute.Bool(GPUAvailableKey, available),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
