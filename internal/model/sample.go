package model

import "time"

// Upload types
type UploadType string

const (
	UploadTypeUploaded UploadType = "uploaded"
	UploadTypeRecorded UploadType = "recorded"
)

// Sample represents an uploaded voice sample used as the cloning reference.
type Sample struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	Name            string     `json:"name"`
	FileName        string     `json:"fileName"`
	Ref             string     `json:"ref"`
	FileSize        int64      `json:"fileSize"`
	DurationSeconds float64    `json:"durationSeconds,omitempty"`
	UploadType      UploadType `json:"uploadType"`
	UploadedAt      time.Time  `json:"uploadedAt"`
}

// SampleListResponse is the body for GET /api/samples
type SampleListResponse struct {
	Samples []*Sample `json:"samples"`
	Total   int64     `json:"total"`
}
