package model

import "time"

// Status event types pushed to websocket subscribers
const (
	EventTypeProcessing = "processing"
	EventTypeCompleted  = "completed"
	EventTypeFailed     = "failed"
	EventTypePing       = "ping"
	EventTypePong       = "pong"
)

// StatusEvent is a status-change notification for a generation. Delivery is
// best-effort; clients that miss events reconstruct state via the status query.
type StatusEvent struct {
	Type         string    `json:"type"`
	GenerationID string    `json:"generationId"`
	Progress     int       `json:"progress"`
	Timestamp    time.Time `json:"timestamp"`
	OutputRef    string    `json:"outputRef,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// WSMessage is a generic client-originated websocket message (ping/pong).
type WSMessage struct {
	Type string `json:"type"`
}
