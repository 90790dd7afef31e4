package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceforge/api/internal/config"
)

func newTestClient(serverURL string) *ReplicateClient {
	return NewReplicateClient(&config.ReplicateConfig{
		APIToken: "test-token",
		BaseURL:  serverURL,
		Model:    "resemble-ai/chatterbox",
	})
}

func TestCreatePrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/models/resemble-ai/chatterbox/predictions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req PredictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Input["prompt"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Prediction{ID: "pred-1", Status: PredictionStatusStarting})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	pred, err := c.CreatePrediction(context.Background(), map[string]interface{}{"prompt": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", pred.ID)
	assert.Equal(t, PredictionStatusStarting, pred.Status)
}

func TestPollPrediction_Succeeds(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predictions/pred-1", r.URL.Path)
		polls++
		status := PredictionStatusProcessing
		var output json.RawMessage
		if polls >= 2 {
			status = PredictionStatusSucceeded
			output = json.RawMessage(`"https://example.com/out.wav"`)
		}
		json.NewEncoder(w).Encode(Prediction{ID: "pred-1", Status: status, Output: output})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	pred, err := c.PollPrediction(context.Background(), "pred-1", time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, PredictionStatusSucceeded, pred.Status)
	assert.GreaterOrEqual(t, polls, 2)

	url, err := pred.OutputURL()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/out.wav", url)
}

func TestPollPrediction_Failed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{ID: "pred-1", Status: PredictionStatusFailed, Error: "NSFW content"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.PollPrediction(context.Background(), "pred-1", time.Millisecond, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NSFW content")
}

func TestOutputURL_List(t *testing.T) {
	pred := &Prediction{ID: "pred-1", Output: json.RawMessage(`["https://example.com/a.wav", "https://example.com/b.wav"]`)}
	url, err := pred.OutputURL()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.wav", url)

	empty := &Prediction{ID: "pred-2"}
	_, err = empty.OutputURL()
	assert.Error(t, err)
}

func TestDoRequest_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "invalid token"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetPrediction(context.Background(), "pred-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, newTestClient("http://x").IsConfigured())
	assert.False(t, NewReplicateClient(&config.ReplicateConfig{}).IsConfigured())
}
