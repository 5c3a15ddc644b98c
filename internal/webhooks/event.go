package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a webhook event payload.
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the event type
	Type EventType `json:"type"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Data contains the event-specific payload
	Data any `json:"data"`
}

// ResolutionStartedData is the payload for resolution.started events.
type ResolutionStartedData struct {
	IssueURL    string `json:"issue_url"`
	IssueNumber int    `json:"issue_number"`
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
}

// ResolutionCompletedData is the payload for resolution.completed events.
type ResolutionCompletedData struct {
	IssueURL     string `json:"issue_url"`
	IssueNumber  int    `json:"issue_number"`
	PRURL        string `json:"pr_url"`
	PRNumber     int    `json:"pr_number"`
	Branch       string `json:"branch"`
	ChangedFiles int    `json:"changed_files"`
	DurationMS   int64  `json:"duration_ms"`
}

// ResolutionFailedData is the payload for resolution.failed events.
type ResolutionFailedData struct {
	IssueURL    string `json:"issue_url"`
	IssueNumber int    `json:"issue_number,omitempty"`
	Error       string `json:"error"`
	FailedStage string `json:"failed_stage,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// PRCreatedData is the payload for pr.created events.
type PRCreatedData struct {
	IssueURL string `json:"issue_url"`
	PRURL    string `json:"pr_url"`
	PRNumber int    `json:"pr_number"`
	Branch   string `json:"branch"`
}

// BatchCompletedData is the payload for batch.completed events.
type BatchCompletedData struct {
	Total      int   `json:"total"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

// NewEvent creates a new Event with generated ID and current timestamp.
func NewEvent(eventType EventType, data any) *Event {
	return &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
