package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge/api/internal/client"
)

const (
	predictionPollInterval = 5 * time.Second
	predictionMaxWait      = 25 * time.Minute
)

// ReplicateSynthesizer is the remote variant, backed by the Replicate
// predictions API. It normalizes the input sample into the data-URI form the
// model expects, downloads the generated audio and persists it to storage.
type ReplicateSynthesizer struct {
	replicate *client.ReplicateClient
	storage   client.StorageClient
}

// NewReplicateSynthesizer creates the remote variant
func NewReplicateSynthesizer(rc *client.ReplicateClient, storage client.StorageClient) *ReplicateSynthesizer {
	return &ReplicateSynthesizer{
		replicate: rc,
		storage:   storage,
	}
}

func (s *ReplicateSynthesizer) Name() string { return "replicate synthesizer" }

// CheckHealth reports whether an API token is configured.
func (s *ReplicateSynthesizer) CheckHealth(ctx context.Context) bool {
	return s.replicate != nil && s.replicate.IsConfigured()
}

// EstimateSeconds estimates ~3 seconds per 10 words, floor of 15.
func (s *ReplicateSynthesizer) EstimateSeconds(text string) int {
	est := wordCount(text) / 10 * 3
	if est < 15 {
		return 15
	}
	return est
}

// Synthesize runs the voice-cloning model and persists its output.
func (s *ReplicateSynthesizer) Synthesize(ctx context.Context, sampleRef, text string) (*Artifact, error) {
	sample, err := s.storage.Download(ctx, sampleRef)
	if err != nil {
		return nil, &ProviderError{Detail: fmt.Sprintf("sample %s not readable", sampleRef), Err: err}
	}

	log.Printf("Starting replicate generation (%d sample bytes, %d words)", len(sample), wordCount(text))

	input := map[string]interface{}{
		"prompt":       text,
		"audio_prompt": sampleDataURI(sampleRef, sample),
	}

	pred, err := s.replicate.CreatePrediction(ctx, input)
	if err != nil {
		return nil, &ProviderError{Detail: "failed to start prediction", Err: err}
	}

	pred, err = s.replicate.PollPrediction(ctx, pred.ID, predictionPollInterval, predictionMaxWait)
	if err != nil {
		return nil, &ProviderError{Detail: "prediction did not complete", Err: err}
	}

	outputURL, err := pred.OutputURL()
	if err != nil {
		return nil, &ProviderError{Detail: "prediction returned no artifact", Err: err}
	}

	audio, err := s.replicate.DownloadOutput(ctx, outputURL)
	if err != nil {
		return nil, &ProviderError{Detail: "failed to download artifact", Err: err}
	}

	key := fmt.Sprintf("generated/%s.wav", uuid.New().String())
	ref, err := s.storage.Upload(ctx, key, bytes.NewReader(audio), "audio/wav")
	if err != nil {
		return nil, &ProviderError{Detail: "failed to persist artifact", Err: err}
	}

	duration := WavDuration(audio)
	if duration == 0 {
		// Non-WAV output; estimate from speaking rate (~150 words/min).
		duration = float64(wordCount(text)) / 2.5
	}

	log.Printf("Replicate generation complete: %s (%.2fs, %d bytes)", ref, duration, len(audio))

	return &Artifact{
		Ref:             ref,
		DurationSeconds: duration,
		FileSize:        int64(len(audio)),
	}, nil
}

// sampleDataURI wraps raw sample bytes in the data-URI form the model accepts.
func sampleDataURI(ref string, data []byte) string {
	mime := "audio/wav"
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".mp3":
		mime = "audio/mpeg"
	case ".ogg":
		mime = "audio/ogg"
	case ".webm":
		mime = "audio/webm"
	case ".m4a":
		mime = "audio/mp4"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}

var _ Synthesizer = (*ReplicateSynthesizer)(nil)
