package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge/api/internal/client"
	"github.com/voiceforge/api/internal/model"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/internal/synth"
)

// SampleService handles voice sample upload and library management. Metadata
// lives in the sample store, bytes in the storage backend.
type SampleService struct {
	samples  *store.SampleStore
	storage  client.StorageClient
	maxBytes int64
}

func NewSampleService(samples *store.SampleStore, storage client.StorageClient, maxBytes int64) *SampleService {
	if maxBytes <= 0 {
		maxBytes = 50 * 1024 * 1024
	}
	return &SampleService{
		samples:  samples,
		storage:  storage,
		maxBytes: maxBytes,
	}
}

// Upload stores a new voice sample for the owner.
func (s *SampleService) Upload(ctx context.Context, ownerID, name, fileName string, uploadType model.UploadType, file io.Reader, contentType string) (*model.Sample, error) {
	data, err := io.ReadAll(io.LimitReader(file, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, s.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}

	id := uuid.New().String()
	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = ".wav"
	}
	key := fmt.Sprintf("samples/%s/%s%s", ownerID, id, ext)

	ref, err := s.storage.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store sample: %w", err)
	}

	sample := &model.Sample{
		ID:              id,
		OwnerID:         ownerID,
		Name:            name,
		FileName:        fileName,
		Ref:             ref,
		FileSize:        int64(len(data)),
		DurationSeconds: synth.WavDuration(data),
		UploadType:      uploadType,
		UploadedAt:      time.Now().UTC(),
	}

	if err := s.samples.CreateSample(ctx, sample); err != nil {
		if delErr := s.storage.Delete(ctx, ref); delErr != nil {
			log.Printf("Failed to remove orphaned sample file %s: %v", ref, delErr)
		}
		return nil, err
	}

	return sample, nil
}

// Get returns a sample owned by the caller.
func (s *SampleService) Get(ctx context.Context, ownerID, id string) (*model.Sample, error) {
	sample, err := s.samples.GetSample(ctx, id)
	if err != nil {
		return nil, err
	}
	if sample.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return sample, nil
}

// List returns a page of the owner's samples.
func (s *SampleService) List(ctx context.Context, ownerID string, offset, limit int) (*model.SampleListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	samples, total, err := s.samples.ListSamples(ctx, ownerID, offset, limit)
	if err != nil {
		return nil, err
	}
	return &model.SampleListResponse{Samples: samples, Total: total}, nil
}

// Delete removes a sample and its stored file.
func (s *SampleService) Delete(ctx context.Context, ownerID, id string) error {
	sample, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.samples.DeleteSample(ctx, id, ownerID); err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, sample.Ref); err != nil {
		log.Printf("Failed to delete sample file %s: %v", sample.Ref, err)
	}

	return nil
}
