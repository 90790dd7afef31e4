package model

import "time"

// Generation status
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// Queue entry state, kept in lockstep with the generation status.
type QueueState string

const (
	QueueStateQueued     QueueState = "queued"
	QueueStateProcessing QueueState = "processing"
	QueueStateCompleted  QueueState = "completed"
	QueueStateFailed     QueueState = "failed"
)

// Generation represents one voice generation request and its tracked lifecycle.
type Generation struct {
	ID              string           `json:"id"`
	OwnerID         string           `json:"ownerId"`
	SampleID        string           `json:"sampleId"`
	VoiceName       string           `json:"voiceName"`
	ScriptText      string           `json:"scriptText"`
	Status          GenerationStatus `json:"status"`
	OutputRef       string           `json:"outputRef,omitempty"`
	DurationSeconds float64          `json:"durationSeconds,omitempty"`
	FileSize        int64            `json:"fileSize,omitempty"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
}

// QueueEntry is the dispatch-queue representation of a generation's work.
// A generation has at most one queue entry; a retry reuses the entry with an
// incremented retry count.
type QueueEntry struct {
	GenerationID string      `json:"generationId"`
	State        QueueState  `json:"state"`
	Priority     int         `json:"priority"`
	QueuedAt     time.Time   `json:"queuedAt"`
	ProcessedAt  *time.Time  `json:"processedAt,omitempty"`
	RetryCount   int         `json:"retryCount"`
	ClaimedBy    string      `json:"claimedBy,omitempty"`
}

// IsTerminal reports whether no further transition happens without an explicit retry.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// ProgressFor maps a status to a coarse progress percentage for status reporting.
func ProgressFor(status GenerationStatus) int {
	switch status {
	case GenerationStatusPending:
		return 10
	case GenerationStatusProcessing:
		return 50
	case GenerationStatusCompleted:
		return 100
	default:
		return 0
	}
}

// StatusMessageFor maps a status to a human-readable message.
func StatusMessageFor(status GenerationStatus) string {
	switch status {
	case GenerationStatusPending:
		return "Your request is in the queue"
	case GenerationStatusProcessing:
		return "Generating your audio with AI..."
	case GenerationStatusCompleted:
		return "Audio generation complete! Ready to download."
	case GenerationStatusFailed:
		return "Generation failed. Please try again or contact support."
	default:
		return "Unknown status"
	}
}

// GenerationCreateRequest is the body for POST /api/generations
type GenerationCreateRequest struct {
	SampleID   string `json:"sampleId" validate:"required"`
	VoiceName  string `json:"voiceName" validate:"required,min=1,max=100"`
	ScriptText string `json:"scriptText" validate:"required,min=1,max=5000"`
	Priority   int    `json:"priority" validate:"omitempty,min=0,max=9"`
}

// GenerationStatusResponse is the body for GET /api/generations/:id/status
type GenerationStatusResponse struct {
	GenerationID           string           `json:"generationId"`
	Status                 GenerationStatus `json:"status"`
	Progress               int              `json:"progress"`
	Message                string           `json:"message"`
	EstimatedTimeRemaining int              `json:"estimatedTimeRemaining,omitempty"` // seconds
	RetryCount             int              `json:"retryCount"`
	CreatedAt              time.Time        `json:"createdAt"`
	CompletedAt            *time.Time       `json:"completedAt,omitempty"`
}

// GenerationListResponse is the body for GET /api/generations
type GenerationListResponse struct {
	Generations []*Generation `json:"generations"`
	Total       int64         `json:"total"`
}
