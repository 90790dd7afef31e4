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

// SampleStore persists voice sample metadata in Redis. The sample bytes live
// in the storage backend under the sample's ref.
type SampleStore struct {
	redis *redis.Client
}

func NewSampleStore(redisClient *redis.Client) *SampleStore {
	return &SampleStore{redis: redisClient}
}

func sampleKey(id string) string { return "sample:" + id }
func sampleOwnerIndexKey(owner string) string {
	return "samples:owner:" + owner
}

// CreateSample persists sample metadata.
func (s *SampleStore) CreateSample(ctx context.Context, sample *model.Sample) error {
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, sampleKey(sample.ID), sampleFields(sample))
	pipe.ZAdd(ctx, sampleOwnerIndexKey(sample.OwnerID), redis.Z{
		Score:  float64(sample.UploadedAt.UnixNano()),
		Member: sample.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist sample: %w", err)
	}
	return nil
}

// GetSample loads a sample by id.
func (s *SampleStore) GetSample(ctx context.Context, id string) (*model.Sample, error) {
	fields, err := s.redis.HGetAll(ctx, sampleKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sample: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseSample(fields)
}

// ListSamples returns a page of the owner's samples, newest first.
func (s *SampleStore) ListSamples(ctx context.Context, ownerID string, offset, limit int) ([]*model.Sample, int64, error) {
	total, err := s.redis.ZCard(ctx, sampleOwnerIndexKey(ownerID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count samples: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}
	ids, err := s.redis.ZRevRange(ctx, sampleOwnerIndexKey(ownerID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list samples: %w", err)
	}

	samples := make([]*model.Sample, 0, len(ids))
	for _, id := range ids {
		sample, err := s.GetSample(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, 0, err
		}
		samples = append(samples, sample)
	}

	return samples, total, nil
}

// DeleteSample removes sample metadata.
func (s *SampleStore) DeleteSample(ctx context.Context, id, ownerID string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, sampleKey(id))
	pipe.ZRem(ctx, sampleOwnerIndexKey(ownerID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete sample: %w", err)
	}
	return nil
}

func sampleFields(sample *model.Sample) map[string]interface{} {
	return map[string]interface{}{
		"id":               sample.ID,
		"owner_id":         sample.OwnerID,
		"name":             sample.Name,
		"file_name":        sample.FileName,
		"ref":              sample.Ref,
		"file_size":        strconv.FormatInt(sample.FileSize, 10),
		"duration_seconds": strconv.FormatFloat(sample.DurationSeconds, 'f', -1, 64),
		"upload_type":      string(sample.UploadType),
		"uploaded_at":      sample.UploadedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseSample(fields map[string]string) (*model.Sample, error) {
	uploadedAt, err := time.Parse(time.RFC3339Nano, fields["uploaded_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid uploaded_at on sample %s: %w", fields["id"], err)
	}

	sample := &model.Sample{
		ID:         fields["id"],
		OwnerID:    fields["owner_id"],
		Name:       fields["name"],
		FileName:   fields["file_name"],
		Ref:        fields["ref"],
		UploadType: model.UploadType(fields["upload_type"]),
		UploadedAt: uploadedAt,
	}

	sample.FileSize, _ = strconv.ParseInt(fields["file_size"], 10, 64)
	sample.DurationSeconds, _ = strconv.ParseFloat(fields["duration_seconds"], 64)

	return sample, nil
}
