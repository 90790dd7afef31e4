package synth

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge/api/internal/client"
)

const stubMaxDelay = 10 * time.Second

// StubSynthesizer is the deterministic fast variant, used when no remote
// backend is configured. It copies the sample bytes as the output artifact and
// reports a duration proportional to the script length. It never fails except
// on a missing sample.
type StubSynthesizer struct {
	storage client.StorageClient

	// DelayPerWord simulates processing latency. Zero disables the delay.
	DelayPerWord time.Duration
}

// NewStubSynthesizer creates the stub variant backed by the given storage
func NewStubSynthesizer(storage client.StorageClient) *StubSynthesizer {
	return &StubSynthesizer{
		storage:      storage,
		DelayPerWord: 200 * time.Millisecond,
	}
}

func (s *StubSynthesizer) Name() string { return "stub synthesizer" }

// CheckHealth always succeeds; the stub has no backend to probe.
func (s *StubSynthesizer) CheckHealth(ctx context.Context) bool { return true }

// EstimateSeconds estimates ~2 seconds per 10 words, floor of 5.
func (s *StubSynthesizer) EstimateSeconds(text string) int {
	est := wordCount(text) / 10 * 2
	if est < 5 {
		return 5
	}
	return est
}

// Synthesize copies the sample as the artifact with a 0.1s-per-word duration.
func (s *StubSynthesizer) Synthesize(ctx context.Context, sampleRef, text string) (*Artifact, error) {
	data, err := s.storage.Download(ctx, sampleRef)
	if err != nil {
		return nil, &ProviderError{Detail: fmt.Sprintf("sample %s not readable", sampleRef), Err: err}
	}

	words := wordCount(text)

	if s.DelayPerWord > 0 {
		delay := time.Duration(words) * s.DelayPerWord
		if delay > stubMaxDelay {
			delay = stubMaxDelay
		}
		log.Printf("Simulating %v processing for %d words", delay, words)
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Detail: "synthesis cancelled", Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	key := fmt.Sprintf("generated/%s.wav", uuid.New().String())
	ref, err := s.storage.Upload(ctx, key, bytes.NewReader(data), "audio/wav")
	if err != nil {
		return nil, &ProviderError{Detail: "failed to persist artifact", Err: err}
	}

	return &Artifact{
		Ref:             ref,
		DurationSeconds: float64(words) * 0.1,
		FileSize:        int64(len(data)),
	}, nil
}

var _ Synthesizer = (*StubSynthesizer)(nil)
