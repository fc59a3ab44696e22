// SPDX-License-Identifier: MIT
package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/stats", "http://localhost:8012/api/stats", 200)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "GET")
	verifyAttribute(t, attrs, HTTPRouteKey, "/api/stats")
	verifyAttribute(t, attrs, HTTPURLKey, "http://localhost:8012/api/stats")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestSessionAttributes(t *testing.T) {
	attrs := SessionAttributes("abc-123", 1, 42, 1500)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, SessionIDKey, "abc-123")
	verifyIntAttribute(t, attrs, SessionDeviceKey, 1)
	verifyIntAttribute(t, attrs, SessionChunksKey, 42)
	verifyIntAttribute(t, attrs, SessionDurationKey, 1500)
}

func TestGPUAttributes(t *testing.T) {
	attrs := GPUAttributes(0, 4<<30, 37.5, true)

	if len(attrs) != 4 {
		t.Fatalf("Expected 4 attributes, got %d", len(attrs))
	}

	verifyIntAttribute(t, attrs, GPUDeviceKey, 0)
	verifyIntAttribute(t, attrs, GPUMemoryFreeKey, 4<<30)

	for _, a := range attrs {
		if string(a.Key) == GPUAvailableKey && !a.Value.AsBool() {
			t.Errorf("Expected %s to be true", GPUAvailableKey)
		}
	}
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("boom"), "admission_timeout")

	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, ErrorTypeKey, "admission_timeout")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			if got := a.Value.AsString(); got != want {
				t.Errorf("Attribute %s: expected %q, got %q", key, want, got)
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want int64) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			if got := a.Value.AsInt64(); got != want {
				t.Errorf("Attribute %s: expected %d, got %d", key, want, got)
			}
			return
		}
	}
	t.Errorf("Attribute %s not found", key)
}
