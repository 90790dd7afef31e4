package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceforge/api/internal/client"
	"github.com/voiceforge/api/internal/model"
	"github.com/voiceforge/api/internal/store"
	"github.com/voiceforge/api/internal/synth"
)

type serviceFixture struct {
	svc     *GenerationService
	samples *SampleService
	storage client.StorageClient
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	storage, err := client.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	stub := synth.NewStubSynthesizer(storage)
	stub.DelayPerWord = 0

	generationStore := store.NewGenerationStore(redisClient)
	sampleStore := store.NewSampleStore(redisClient)

	return &serviceFixture{
		svc:     NewGenerationService(generationStore, sampleStore, storage, asynqClient, stub, time.Minute),
		samples: NewSampleService(sampleStore, storage, 50*1024*1024),
		storage: storage,
	}
}

func (f *serviceFixture) seedSample(t *testing.T, owner string) *model.Sample {
	t.Helper()
	sample, err := f.samples.Upload(context.Background(), owner, "Voice", "voice.wav",
		model.UploadTypeUploaded, bytes.NewReader([]byte("fake audio")), "audio/wav")
	require.NoError(t, err)
	return sample
}

func TestSubmit_Success(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	gen, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "hello world",
	})
	require.NoError(t, err)

	assert.Equal(t, model.GenerationStatusPending, gen.Status)
	assert.Equal(t, sample.ID, gen.SampleID)
	assert.NotEmpty(t, gen.ID)
}

func TestSubmit_EmptyText(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	_, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "   ",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmit_TextTooLong(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	_, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: strings.Repeat("a", 5001),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmit_LengthCountsRunes(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	// 5000 two-byte runes is 10000 bytes but still within the limit.
	gen, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: strings.Repeat("é", 5000),
	})
	require.NoError(t, err)
	assert.Equal(t, model.GenerationStatusPending, gen.Status)

	_, err = f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: strings.Repeat("é", 5001),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmit_UnknownSample(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()

	_, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   uuid.New().String(),
		VoiceName:  "Narrator",
		ScriptText: "hello",
	})
	assert.ErrorIs(t, err, ErrSampleNotFound)
}

func TestSubmit_ForeignSample(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	_, err := f.svc.Submit(context.Background(), "other-"+uuid.New().String(), &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "hello",
	})
	assert.ErrorIs(t, err, ErrSampleNotFound)
}

func TestSubmit_SampleFileMissing(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	require.NoError(t, f.storage.Delete(context.Background(), sample.Ref))

	_, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "hello",
	})
	assert.ErrorIs(t, err, ErrSampleNotFound)
}

func TestGetStatus_PendingFields(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	gen, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "hello world",
	})
	require.NoError(t, err)

	status, err := f.svc.GetStatus(context.Background(), owner, gen.ID)
	require.NoError(t, err)

	assert.Equal(t, model.GenerationStatusPending, status.Status)
	assert.Equal(t, 10, status.Progress)
	assert.Equal(t, "Your request is in the queue", status.Message)
	assert.Equal(t, 0, status.RetryCount)
	assert.Zero(t, status.EstimatedTimeRemaining)
}

func TestDownload_NotCompleted(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	gen, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "hello",
	})
	require.NoError(t, err)

	_, _, err = f.svc.Download(context.Background(), owner, gen.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestDelete_RemovesGeneration(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	gen, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "hello",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), owner, gen.ID))

	_, err = f.svc.Get(context.Background(), owner, gen.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetry_PendingIsConflict(t *testing.T) {
	f := setupService(t)
	owner := "owner-" + uuid.New().String()
	sample := f.seedSample(t, owner)

	gen, err := f.svc.Submit(context.Background(), owner, &model.GenerationCreateRequest{
		SampleID:   sample.ID,
		VoiceName:  "Narrator",
		ScriptText: "hello",
	})
	require.NoError(t, err)

	_, err = f.svc.Retry(context.Background(), owner, gen.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}
