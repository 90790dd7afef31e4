package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/voiceforge/api/internal/config"
)

// Prediction statuses reported by the Replicate API
const (
	PredictionStatusStarting   = "starting"
	PredictionStatusProcessing = "processing"
	PredictionStatusSucceeded  = "succeeded"
	PredictionStatusFailed     = "failed"
	PredictionStatusCanceled   = "canceled"
)

// ReplicateClient calls the Replicate predictions API for voice cloning.
type ReplicateClient struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	model      string
}

// PredictionRequest represents the request to create a prediction
type PredictionRequest struct {
	Input map[string]interface{} `json:"input"`
}

// Prediction represents a Replicate prediction
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OutputURL extracts the artifact URL from a prediction output. Chatterbox
// returns a single URL string; some models return a list of URLs.
func (p *Prediction) OutputURL() (string, error) {
	if len(p.Output) == 0 {
		return "", fmt.Errorf("prediction %s has no output", p.ID)
	}

	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil && single != "" {
		return single, nil
	}

	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}

	return "", fmt.Errorf("prediction %s has unrecognized output: %s", p.ID, string(p.Output))
}

// NewReplicateClient creates a new Replicate API client
func NewReplicateClient(cfg *config.ReplicateConfig) *ReplicateClient {
	return &ReplicateClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		model:    cfg.Model,
	}
}

// CreatePrediction starts a prediction for the configured model
func (c *ReplicateClient) CreatePrediction(ctx context.Context, input map[string]interface{}) (*Prediction, error) {
	endpoint := fmt.Sprintf("/v1/models/%s/predictions", c.model)
	var result Prediction
	if err := c.post(ctx, endpoint, &PredictionRequest{Input: input}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrediction retrieves the current state of a prediction
func (c *ReplicateClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	endpoint := fmt.Sprintf("/v1/predictions/%s", id)
	var result Prediction
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollPrediction polls a prediction until it reaches a terminal status
func (c *ReplicateClient) PollPrediction(ctx context.Context, id string, interval time.Duration, maxWait time.Duration) (*Prediction, error) {
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		result, err := c.GetPrediction(ctx, id)
		if err != nil {
			log.Printf("[Replicate] Poll #%d (prediction=%s) — error: %v", attempt, id, err)
			return nil, err
		}

		log.Printf("[Replicate] Poll #%d (prediction=%s) — status: %s", attempt, id, result.Status)

		switch result.Status {
		case PredictionStatusSucceeded:
			return result, nil
		case PredictionStatusFailed, PredictionStatusCanceled:
			return nil, fmt.Errorf("prediction %s %s: %s", id, result.Status, result.Error)
		}

		select {
		case <-ctx.Done():
			log.Printf("[Replicate] Poll (prediction=%s) — context cancelled", id)
			return nil, ctx.Err()
		case <-time.After(interval):
			continue
		}
	}

	return nil, fmt.Errorf("prediction %s timed out after %v", id, maxWait)
}

// DownloadOutput fetches the bytes of a prediction output URL
func (c *ReplicateClient) DownloadOutput(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("output download error (status %d)", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read output body: %w", err)
	}

	return data, nil
}

// post sends a POST request with JSON body
func (c *ReplicateClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *ReplicateClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *ReplicateClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	log.Printf("[Replicate] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Replicate] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Replicate] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Replicate] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("replicate API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Replicate] ✗ unmarshal error for %s %s: %v (body: %s)", req.Method, req.URL.String(), err, string(respBody))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ReplicateClient) IsConfigured() bool {
	return c.apiToken != ""
}
