// SPDX-License-Identifier: MIT

package session

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// defaultSampleRate applies when the client omits sample_rate.
const defaultSampleRate = 16000

// decodeAudioChunk decodes a base64 payload of little-endian int16 PCM into
// normalized float32 samples in [-1, 1].
func decodeAudioChunk(data string) ([]float32, error) {
	if data == "" {
		return nil, errors.New("audio message carries no data")
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("audio payload is empty")
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("audio payload length %d is not int16-aligned", len(raw))
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32767.0
	}
	return samples, nil
}
