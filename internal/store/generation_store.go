// Package store is the durable record of generations and their queue entries,
// backed by Redis. Every state transition is a single Lua script so a
// generation and its queue entry can never be observed out of lockstep.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voiceforge/api/internal/model"
)

var (
	// ErrNotFound means the generation (or sample) does not exist.
	ErrNotFound = errors.New("generation not found")
	// ErrConflict means the requested transition is illegal in the current state.
	ErrConflict = errors.New("conflict with current generation state")
)

// GenerationStore persists generations and queue entries in Redis hashes.
type GenerationStore struct {
	redis *redis.Client
}

func NewGenerationStore(redisClient *redis.Client) *GenerationStore {
	return &GenerationStore{redis: redisClient}
}

func generationKey(id string) string { return "generation:" + id }
func queueKey(id string) string      { return "genqueue:" + id }
func ownerIndexKey(owner string) string {
	return "generations:owner:" + owner
}

// claimScript flips a queued entry to processing exactly once. Compare-and-swap
// on the queue state guarantees at-most-one concurrent execution per generation.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('HGET', KEYS[1], 'state') ~= 'queued' then
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'processing', 'claimed_by', ARGV[1])
redis.call('HSET', KEYS[2], 'status', 'processing')
return 1
`)

var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'status') ~= 'processing' then
  return 0
end
redis.call('HSET', KEYS[2],
  'status', 'completed',
  'output_ref', ARGV[1],
  'duration_seconds', ARGV[2],
  'file_size', ARGV[3],
  'completed_at', ARGV[4],
  'error', '')
redis.call('HSET', KEYS[1], 'state', 'completed', 'processed_at', ARGV[4])
return 1
`)

var failScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'status') ~= 'processing' then
  return 0
end
redis.call('HSET', KEYS[2],
  'status', 'failed',
  'error', ARGV[1],
  'completed_at', ARGV[2])
redis.call('HSET', KEYS[1], 'state', 'failed', 'processed_at', ARGV[2])
return 1
`)

// retryScript resets a failed generation back to pending. A missing queue
// entry is a conflict, not a silent no-op: the pair must move together.
var retryScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[2], 'status')
if s == false then
  return -2
end
if s ~= 'failed' then
  return -1
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[2],
  'status', 'pending',
  'completed_at', '',
  'output_ref', '',
  'duration_seconds', '0',
  'file_size', '0',
  'error', '')
redis.call('HSET', KEYS[1],
  'state', 'queued',
  'queued_at', ARGV[1],
  'processed_at', '',
  'claimed_by', '')
return redis.call('HINCRBY', KEYS[1], 'retry_count', 1)
`)

// revertRetryScript undoes a retry reset when the re-dispatch itself failed:
// the pair goes back to FAILED and the retry count is returned to its prior
// value, so the client can retry again later.
var revertRetryScript = redis.NewScript(`
if redis.call('HGET', KEYS[2], 'status') ~= 'pending' then
  return 0
end
if redis.call('HGET', KEYS[1], 'state') ~= 'queued' then
  return 0
end
redis.call('HSET', KEYS[2],
  'status', 'failed',
  'error', ARGV[1],
  'completed_at', ARGV[2])
redis.call('HSET', KEYS[1], 'state', 'failed', 'processed_at', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'retry_count', -1)
return 1
`)

var deleteScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[2], 'status')
if s == false then
  return {-2, ''}
end
if s == 'processing' then
  return {-1, ''}
end
local out = redis.call('HGET', KEYS[2], 'output_ref')
if out == false then
  out = ''
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
return {0, out}
`)

// CreateGeneration persists a new generation and its queue entry atomically.
func (s *GenerationStore) CreateGeneration(ctx context.Context, gen *model.Generation, entry *model.QueueEntry) error {
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, generationKey(gen.ID), generationFields(gen))
	pipe.HSet(ctx, queueKey(gen.ID), queueFields(entry))
	pipe.ZAdd(ctx, ownerIndexKey(gen.OwnerID), redis.Z{
		Score:  float64(gen.CreatedAt.UnixNano()),
		Member: gen.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist generation: %w", err)
	}
	return nil
}

// GetGeneration loads a generation by id.
func (s *GenerationStore) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	fields, err := s.redis.HGetAll(ctx, generationKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load generation: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseGeneration(fields)
}

// GetQueueEntry loads the queue entry of a generation.
func (s *GenerationStore) GetQueueEntry(ctx context.Context, id string) (*model.QueueEntry, error) {
	fields, err := s.redis.HGetAll(ctx, queueKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseQueueEntry(fields)
}

// ClaimGeneration attempts the atomic QUEUED→PROCESSING claim. Returns false
// when the entry is missing or already claimed; a no-op for the caller.
func (s *GenerationStore) ClaimGeneration(ctx context.Context, id, workerID string) (bool, error) {
	n, err := claimScript.Run(ctx, s.redis, []string{queueKey(id), generationKey(id)}, workerID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim generation: %w", err)
	}
	return n == 1, nil
}

// CompleteGeneration writes the output fields and moves the pair to COMPLETED.
func (s *GenerationStore) CompleteGeneration(ctx context.Context, id, outputRef string, duration float64, fileSize int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := completeScript.Run(ctx, s.redis,
		[]string{queueKey(id), generationKey(id)},
		outputRef,
		strconv.FormatFloat(duration, 'f', -1, 64),
		strconv.FormatInt(fileSize, 10),
		now,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to complete generation: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

// FailGeneration records the failure reason and moves the pair to FAILED.
func (s *GenerationStore) FailGeneration(ctx context.Context, id, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := failScript.Run(ctx, s.redis,
		[]string{queueKey(id), generationKey(id)},
		reason,
		now,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to fail generation: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

// RetryGeneration resets a FAILED generation to PENDING and increments the
// retry count. Returns the new retry count.
func (s *GenerationStore) RetryGeneration(ctx context.Context, id string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := retryScript.Run(ctx, s.redis, []string{queueKey(id), generationKey(id)}, now).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to retry generation: %w", err)
	}
	switch n {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, ErrConflict
	}
	return n, nil
}

// RevertRetry moves a freshly retried generation back to FAILED after a
// dispatch error, restoring the prior retry count.
func (s *GenerationStore) RevertRetry(ctx context.Context, id, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := revertRetryScript.Run(ctx, s.redis, []string{queueKey(id), generationKey(id)}, reason, now).Int()
	if err != nil {
		return fmt.Errorf("failed to revert retry: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

// DeleteGeneration removes the generation and its queue entry together.
// Returns the output ref (if any) so the caller can clean up the artifact.
// Deleting a PROCESSING generation is a conflict.
func (s *GenerationStore) DeleteGeneration(ctx context.Context, id, ownerID string) (string, error) {
	res, err := deleteScript.Run(ctx, s.redis,
		[]string{queueKey(id), generationKey(id), ownerIndexKey(ownerID)},
		id,
	).Slice()
	if err != nil {
		return "", fmt.Errorf("failed to delete generation: %w", err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected delete script result: %v", res)
	}

	code, _ := res[0].(int64)
	switch code {
	case -2:
		return "", ErrNotFound
	case -1:
		return "", ErrConflict
	}

	outputRef, _ := res[1].(string)
	return outputRef, nil
}

// ListGenerations returns a page of the owner's generations, newest first,
// optionally filtered by status. Total counts the filtered set.
func (s *GenerationStore) ListGenerations(ctx context.Context, ownerID string, status model.GenerationStatus, offset, limit int) ([]*model.Generation, int64, error) {
	ids, err := s.redis.ZRevRange(ctx, ownerIndexKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list generations: %w", err)
	}

	var filtered []*model.Generation
	for _, id := range ids {
		gen, err := s.GetGeneration(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, 0, err
		}
		if status != "" && gen.Status != status {
			continue
		}
		filtered = append(filtered, gen)
	}

	total := int64(len(filtered))
	if offset >= len(filtered) {
		return []*model.Generation{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}

// Hash field helpers

func generationFields(gen *model.Generation) map[string]interface{} {
	completedAt := ""
	if gen.CompletedAt != nil {
		completedAt = gen.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"id":               gen.ID,
		"owner_id":         gen.OwnerID,
		"sample_id":        gen.SampleID,
		"voice_name":       gen.VoiceName,
		"script_text":      gen.ScriptText,
		"status":           string(gen.Status),
		"output_ref":       gen.OutputRef,
		"duration_seconds": strconv.FormatFloat(gen.DurationSeconds, 'f', -1, 64),
		"file_size":        strconv.FormatInt(gen.FileSize, 10),
		"error":            gen.Error,
		"created_at":       gen.CreatedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":     completedAt,
	}
}

func queueFields(entry *model.QueueEntry) map[string]interface{} {
	processedAt := ""
	if entry.ProcessedAt != nil {
		processedAt = entry.ProcessedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"generation_id": entry.GenerationID,
		"state":         string(entry.State),
		"priority":      strconv.Itoa(entry.Priority),
		"queued_at":     entry.QueuedAt.UTC().Format(time.RFC3339Nano),
		"processed_at":  processedAt,
		"retry_count":   strconv.Itoa(entry.RetryCount),
		"claimed_by":    entry.ClaimedBy,
	}
}

func parseGeneration(fields map[string]string) (*model.Generation, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at on generation %s: %w", fields["id"], err)
	}

	gen := &model.Generation{
		ID:         fields["id"],
		OwnerID:    fields["owner_id"],
		SampleID:   fields["sample_id"],
		VoiceName:  fields["voice_name"],
		ScriptText: fields["script_text"],
		Status:     model.GenerationStatus(fields["status"]),
		OutputRef:  fields["output_ref"],
		Error:      fields["error"],
		CreatedAt:  createdAt,
	}

	gen.DurationSeconds, _ = strconv.ParseFloat(fields["duration_seconds"], 64)
	gen.FileSize, _ = strconv.ParseInt(fields["file_size"], 10, 64)

	if v := fields["completed_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid completed_at on generation %s: %w", fields["id"], err)
		}
		gen.CompletedAt = &t
	}

	return gen, nil
}

func parseQueueEntry(fields map[string]string) (*model.QueueEntry, error) {
	queuedAt, err := time.Parse(time.RFC3339Nano, fields["queued_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid queued_at on queue entry %s: %w", fields["generation_id"], err)
	}

	entry := &model.QueueEntry{
		GenerationID: fields["generation_id"],
		State:        model.QueueState(fields["state"]),
		QueuedAt:     queuedAt,
		ClaimedBy:    fields["claimed_by"],
	}

	entry.Priority, _ = strconv.Atoi(fields["priority"])
	entry.RetryCount, _ = strconv.Atoi(fields["retry_count"])

	if v := fields["processed_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid processed_at on queue entry %s: %w", fields["generation_id"], err)
		}
		entry.ProcessedAt = &t
	}

	return entry, nil
}
