package e2e

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestSampleUpload_Success(t *testing.T) {
	ta := setupApp(t)
	userID := "user-" + uuid.New().String()

	sampleID := uploadSample(t, ta.app, userID)

	resp, err := doAuthRequest(t, ta.app, userID, http.MethodGet, "/api/samples/"+sampleID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["name"] != "Test Voice" {
		t.Errorf("expected name 'Test Voice', got %v", result["name"])
	}
	if result["uploadType"] != "uploaded" {
		t.Errorf("expected uploadType 'uploaded', got %v", result["uploadType"])
	}
	if dur, ok := result["durationSeconds"].(float64); !ok || dur < 0.9 || dur > 1.1 {
		t.Errorf("expected ~1s duration for fixture, got %v", result["durationSeconds"])
	}
}

func TestSampleUpload_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/samples/", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestSampleList(t *testing.T) {
	ta := setupApp(t)
	userID := "user-" + uuid.New().String()

	uploadSample(t, ta.app, userID)
	uploadSample(t, ta.app, userID)

	resp, err := doAuthRequest(t, ta.app, userID, http.MethodGet, "/api/samples/", "")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["total"].(float64) != 2 {
		t.Errorf("expected total 2, got %v", result["total"])
	}
	samples := result["samples"].([]interface{})
	if len(samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(samples))
	}
}

func TestSampleGet_WrongOwner(t *testing.T) {
	ta := setupApp(t)
	owner := "user-" + uuid.New().String()
	other := "user-" + uuid.New().String()

	sampleID := uploadSample(t, ta.app, owner)

	resp, err := doAuthRequest(t, ta.app, other, http.MethodGet, "/api/samples/"+sampleID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestSampleDelete(t *testing.T) {
	ta := setupApp(t)
	userID := "user-" + uuid.New().String()

	sampleID := uploadSample(t, ta.app, userID)

	resp, err := doAuthRequest(t, ta.app, userID, http.MethodDelete, "/api/samples/"+sampleID, "")
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	resp, err = doAuthRequest(t, ta.app, userID, http.MethodGet, "/api/samples/"+sampleID, "")
	if err != nil {
		t.Fatalf("get request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}
