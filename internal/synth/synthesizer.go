// Package synth abstracts the voice-cloning capability behind a single
// interface with a deterministic stub and a remote Replicate-backed variant.
package synth

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"strings"
)

// Artifact describes a synthesized audio output.
type Artifact struct {
	Ref             string
	DurationSeconds float64
	FileSize        int64
}

// Synthesizer turns (sample, text) into an audio artifact.
type Synthesizer interface {
	// Synthesize generates audio in the voice of the referenced sample.
	Synthesize(ctx context.Context, sampleRef, text string) (*Artifact, error)
	// EstimateSeconds returns a rough processing-time estimate for status
	// reporting. It never gates execution.
	EstimateSeconds(text string) int
	// CheckHealth reports whether the backend is usable. Consulted once at
	// startup, never mid-job.
	CheckHealth(ctx context.Context) bool
	Name() string
}

// ProviderError classifies any synthesis backend failure. The worker converts
// it into a terminal job state; it never propagates as a process-level fault.
type ProviderError struct {
	Detail string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("provider error: %s", e.Detail)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Select picks the remote provider when it is configured and responds to the
// startup health probe, otherwise the stub. The choice is made once; a job
// that starts on one provider stays on it unless the fallback policy is on.
func Select(ctx context.Context, remote, stub Synthesizer) Synthesizer {
	if remote != nil && remote.CheckHealth(ctx) {
		log.Printf("Using %s for voice generation", remote.Name())
		return remote
	}
	log.Printf("Using %s for voice generation (no remote backend configured)", stub.Name())
	return stub
}

// wordCount counts whitespace-separated words in text.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

// WavDuration reads the duration of a RIFF/WAVE payload from its fmt and data
// chunks. Returns 0 when the payload is not parseable WAV.
func WavDuration(data []byte) float64 {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0
	}

	var byteRate uint32
	var dataSize uint32

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		switch chunkID {
		case "fmt ":
			if offset+16+8 <= len(data) {
				byteRate = binary.LittleEndian.Uint32(data[offset+16 : offset+20])
			}
		case "data":
			dataSize = chunkSize
		}

		offset += 8 + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if byteRate == 0 || dataSize == 0 {
		return 0
	}
	return float64(dataSize) / float64(byteRate)
}
