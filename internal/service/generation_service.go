package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/voiceforge/api/internal/client"
	"github.com/voiceforge/api/internal/model"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/internal/synth"
)

const (
	TaskTypeGeneration = "generation:process"

	// Priority 0 flows through the default queue (FIFO); anything above it
	// lands on the weighted critical queue.
	QueueDefault  = "default"
	QueueCritical = "critical"

	maxScriptChars = 5000
)

var (
	// ErrInvalidInput means the request shape or bounds are invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSampleNotFound means the referenced sample does not exist for the owner.
	ErrSampleNotFound = errors.New("sample not found")
	// ErrDispatchFailure means the job could not be durably enqueued. The
	// generation record is rolled back; no orphan is left behind.
	ErrDispatchFailure = errors.New("failed to dispatch generation")
)

// GenerationTaskPayload is the asynq task payload.
type GenerationTaskPayload struct {
	GenerationID string `json:"generationId"`
}

// GenerationService manages the generation lifecycle: submission, status,
// retry, deletion and listing. Execution itself happens in the worker.
type GenerationService struct {
	generations *store.GenerationStore
	samples     *store.SampleStore
	storage     client.StorageClient
	asynqClient *asynq.Client
	synthesizer synth.Synthesizer
	retention   time.Duration
	timeout     time.Duration
}

func NewGenerationService(
	generations *store.GenerationStore,
	samples *store.SampleStore,
	storage client.StorageClient,
	asynqClient *asynq.Client,
	synthesizer synth.Synthesizer,
	timeout time.Duration,
) *GenerationService {
	return &GenerationService{
		generations: generations,
		samples:     samples,
		storage:     storage,
		asynqClient: asynqClient,
		synthesizer: synthesizer,
		retention:   24 * time.Hour,
		timeout:     timeout,
	}
}

// Submit validates the request, creates the generation in PENDING with a
// QUEUED entry, and hands it to the dispatcher. Returns immediately after a
// durable enqueue; it never blocks on synthesis.
func (s *GenerationService) Submit(ctx context.Context, ownerID string, req *model.GenerationCreateRequest) (*model.Generation, error) {
	text := strings.TrimSpace(req.ScriptText)
	if text == "" || utf8.RuneCountInString(req.ScriptText) > maxScriptChars {
		return nil, fmt.Errorf("%w: script text must be 1-%d characters", ErrInvalidInput, maxScriptChars)
	}

	sample, err := s.samples.GetSample(ctx, req.SampleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSampleNotFound
		}
		return nil, err
	}
	if sample.OwnerID != ownerID {
		return nil, ErrSampleNotFound
	}

	exists, err := s.storage.Exists(ctx, sample.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to check sample file: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: sample file missing from storage", ErrSampleNotFound)
	}

	now := time.Now().UTC()
	gen := &model.Generation{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		SampleID:   sample.ID,
		VoiceName:  req.VoiceName,
		ScriptText: req.ScriptText,
		Status:     model.GenerationStatusPending,
		CreatedAt:  now,
	}
	entry := &model.QueueEntry{
		GenerationID: gen.ID,
		State:        model.QueueStateQueued,
		Priority:     req.Priority,
		QueuedAt:     now,
	}

	if err := s.generations.CreateGeneration(ctx, gen, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	}

	if err := s.enqueue(ctx, gen.ID, req.Priority); err != nil {
		// Roll back so the generation is never left pending without a
		// dispatchable entry.
		if _, delErr := s.generations.DeleteGeneration(ctx, gen.ID, ownerID); delErr != nil {
			log.Printf("Failed to roll back generation %s after enqueue error: %v", gen.ID, delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	}

	log.Printf("Generation %s queued for owner %s", gen.ID, ownerID)
	return gen, nil
}

// Get returns a generation owned by the caller.
func (s *GenerationService) Get(ctx context.Context, ownerID, id string) (*model.Generation, error) {
	gen, err := s.generations.GetGeneration(ctx, id)
	if err != nil {
		return nil, err
	}
	if gen.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return gen, nil
}

// GetStatus returns the live status view with progress and a time estimate.
func (s *GenerationService) GetStatus(ctx context.Context, ownerID, id string) (*model.GenerationStatusResponse, error) {
	gen, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	retryCount := 0
	if entry, err := s.generations.GetQueueEntry(ctx, id); err == nil {
		retryCount = entry.RetryCount
	}

	resp := &model.GenerationStatusResponse{
		GenerationID: gen.ID,
		Status:       gen.Status,
		Progress:     model.ProgressFor(gen.Status),
		Message:      model.StatusMessageFor(gen.Status),
		RetryCount:   retryCount,
		CreatedAt:    gen.CreatedAt,
		CompletedAt:  gen.CompletedAt,
	}

	if gen.Status == model.GenerationStatusProcessing {
		resp.EstimatedTimeRemaining = s.synthesizer.EstimateSeconds(gen.ScriptText)
	}

	return resp, nil
}

// List returns a page of the owner's generations, optionally status-filtered.
func (s *GenerationService) List(ctx context.Context, ownerID string, status model.GenerationStatus, offset, limit int) (*model.GenerationListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	generations, total, err := s.generations.ListGenerations(ctx, ownerID, status, offset, limit)
	if err != nil {
		return nil, err
	}
	return &model.GenerationListResponse{Generations: generations, Total: total}, nil
}

// Retry re-enqueues a FAILED generation: state back to PENDING, retry count
// incremented, completed_at and output cleared. Any other state is a conflict.
func (s *GenerationService) Retry(ctx context.Context, ownerID, id string) (*model.Generation, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}

	retryCount, err := s.generations.RetryGeneration(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, err := s.generations.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, id, entry.Priority); err != nil {
		// Park it back in FAILED so the client can retry again later.
		if revertErr := s.generations.RevertRetry(ctx, id, "retry dispatch failed"); revertErr != nil {
			log.Printf("Failed to revert generation %s after retry enqueue error: %v", id, revertErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	}

	log.Printf("Generation %s re-queued (retry %d)", id, retryCount)
	return s.generations.GetGeneration(ctx, id)
}

// Delete removes a generation and its queue entry together, plus the stored
// artifact. Rejected while PROCESSING.
func (s *GenerationService) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}

	outputRef, err := s.generations.DeleteGeneration(ctx, id, ownerID)
	if err != nil {
		return err
	}

	if outputRef != "" {
		if err := s.storage.Delete(ctx, outputRef); err != nil {
			log.Printf("Failed to delete artifact %s: %v", outputRef, err)
		}
	}

	return nil
}

// Download returns the completed artifact bytes and the generation record.
func (s *GenerationService) Download(ctx context.Context, ownerID, id string) (*model.Generation, []byte, error) {
	gen, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	if gen.Status != model.GenerationStatusCompleted || gen.OutputRef == "" {
		return nil, nil, store.ErrConflict
	}

	data, err := s.storage.Download(ctx, gen.OutputRef)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return gen, data, nil
}

func (s *GenerationService) enqueue(ctx context.Context, generationID string, priority int) error {
	payload, err := json.Marshal(&GenerationTaskPayload{GenerationID: generationID})
	if err != nil {
		return err
	}

	queue := QueueDefault
	if priority > 0 {
		queue = QueueCritical
	}

	// Retries are an explicit client action; asynq must never redeliver on
	// its own (MaxRetry 0).
	_, err = s.asynqClient.EnqueueContext(ctx, asynq.NewTask(TaskTypeGeneration, payload),
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Timeout(s.timeout),
		asynq.Retention(s.retention),
	)
	return err
}
