package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/voiceforge/api/internal/model"
	"github.com/voiceforge/api/internal/service"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/internal/synth"
	"github.com/voiceforge/api/internal/websocket"
)

// GenerationWorker executes generation jobs: it claims the queue entry,
// invokes the synthesis provider and writes the terminal state. Provider
// failures become a FAILED generation, never a task error — retries are an
// explicit client action.
type GenerationWorker struct {
	id          string
	generations *store.GenerationStore
	samples     *store.SampleStore
	synthesizer synth.Synthesizer
	fallback    synth.Synthesizer // non-nil only when the fallback policy is on
	hub         *websocket.Hub
	timeout     time.Duration
}

// NewGenerationWorker creates a worker. fallback may be nil; when set, a
// remote provider failure is retried once on it before the job fails.
func NewGenerationWorker(
	id string,
	generations *store.GenerationStore,
	samples *store.SampleStore,
	synthesizer synth.Synthesizer,
	fallback synth.Synthesizer,
	hub *websocket.Hub,
	timeout time.Duration,
) *GenerationWorker {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &GenerationWorker{
		id:          id,
		generations: generations,
		samples:     samples,
		synthesizer: synthesizer,
		fallback:    fallback,
		hub:         hub,
		timeout:     timeout,
	}
}

// ProcessTask handles one generation task.
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.GenerationTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	id := payload.GenerationID

	claimed, err := w.generations.ClaimGeneration(ctx, id, w.id)
	if err != nil {
		return fmt.Errorf("failed to claim generation %s: %w", id, err)
	}
	if !claimed {
		// Already claimed by another worker, or the generation is gone.
		log.Printf("Generation %s not claimable, skipping", id)
		return nil
	}

	log.Printf("Worker %s claimed generation %s", w.id, id)

	gen, err := w.generations.GetGeneration(ctx, id)
	if err != nil {
		w.failGeneration(ctx, id, "generation record missing after claim")
		return nil
	}

	w.hub.PublishStatus(gen.OwnerID, &model.StatusEvent{
		Type:         model.EventTypeProcessing,
		GenerationID: id,
		Progress:     model.ProgressFor(model.GenerationStatusProcessing),
		Timestamp:    time.Now().UTC(),
	})

	sample, err := w.samples.GetSample(ctx, gen.SampleID)
	if err != nil {
		w.failGeneration(ctx, id, fmt.Sprintf("sample %s no longer available", gen.SampleID))
		return nil
	}

	log.Printf("Generating %d chars of text with sample %s (est. %ds)",
		len(gen.ScriptText), sample.ID, w.synthesizer.EstimateSeconds(gen.ScriptText))

	synthCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	artifact, err := w.synthesizer.Synthesize(synthCtx, sample.Ref, gen.ScriptText)
	if err != nil && w.fallback != nil {
		log.Printf("Provider failed for generation %s, falling back to %s: %v", id, w.fallback.Name(), err)
		artifact, err = w.fallback.Synthesize(synthCtx, sample.Ref, gen.ScriptText)
	}
	if err != nil {
		w.failGeneration(ctx, id, err.Error())
		return nil
	}

	if err := w.generations.CompleteGeneration(ctx, id, artifact.Ref, artifact.DurationSeconds, artifact.FileSize); err != nil {
		w.failGeneration(ctx, id, "failed to record result")
		return nil
	}

	w.hub.PublishStatus(gen.OwnerID, &model.StatusEvent{
		Type:         model.EventTypeCompleted,
		GenerationID: id,
		Progress:     100,
		Timestamp:    time.Now().UTC(),
		OutputRef:    artifact.Ref,
	})

	log.Printf("Generation %s completed (%.2fs, %d bytes)", id, artifact.DurationSeconds, artifact.FileSize)
	return nil
}

func (w *GenerationWorker) failGeneration(ctx context.Context, id, reason string) {
	if err := w.generations.FailGeneration(ctx, id, reason); err != nil {
		log.Printf("Failed to mark generation %s as failed: %v", id, err)
		return
	}

	ownerID := ""
	if gen, err := w.generations.GetGeneration(ctx, id); err == nil {
		ownerID = gen.OwnerID
	}

	w.hub.PublishStatus(ownerID, &model.StatusEvent{
		Type:         model.EventTypeFailed,
		GenerationID: id,
		Progress:     model.ProgressFor(model.GenerationStatusFailed),
		Timestamp:    time.Now().UTC(),
		Error:        reason,
	})

	log.Printf("Generation %s failed: %s", id, reason)
}
