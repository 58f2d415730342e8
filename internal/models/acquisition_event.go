package models

import "time"

// Journal event types.
const (
	EventModeChange = "MODE_CHANGE"
	EventPushError  = "PUSH_ERROR"
	EventPollError  = "POLL_ERROR"
	EventShutdown   = "SHUTDOWN"
)

// AcquisitionEvent is a single journal entry describing an acquisition transition.
type AcquisitionEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // MODE_CHANGE | PUSH_ERROR | POLL_ERROR | SHUTDOWN
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
