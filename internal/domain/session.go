package domain

import "time"

// SessionStart is emitted when a bridge session connects to a backend
type SessionStart struct {
	Type          string `json:"type"`          // "session_start"
	SchemaVersion int    `json:"schemaVersion"` // 1
	SessionID     string `json:"session_id"`    // Random session identifier
	Registry      string `json:"registry"`      // Backend service registry address
	Callback      string `json:"callback"`      // Address of the bridge-hosted callback services
	Timestamp     string `json:"timestamp"`     // ISO8601 timestamp
}

// SessionEnd is emitted when a bridge session is torn down
type SessionEnd struct {
	Type          string         `json:"type"`          // "session_end"
	SchemaVersion int            `json:"schemaVersion"` // 1
	SessionID     string         `json:"session_id"`    // Session that ended
	ExitCode      *int           `json:"exit_code,omitempty"`
	Summary       SessionSummary `json:"summary"` // Summary of the session
}

// SessionSummary contains statistics about a completed session
type SessionSummary struct {
	Stops           int `json:"stops"`
	Events          int `json:"events"`
	LogEvents       int `json:"log_events"`
	OutputBytes     int `json:"output_bytes"`
	InputRequests   int `json:"input_requests"`
	DurationSeconds int `json:"duration_seconds"`
}

// NewSessionStart creates a new SessionStart event
func NewSessionStart(id, registry, callback string, now time.Time) *SessionStart {
	return &SessionStart{
		Type:          "session_start",
		SchemaVersion: 1,
		SessionID:     id,
		Registry:      registry,
		Callback:      callback,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// NewSessionEnd creates a new SessionEnd event
func NewSessionEnd(id string, exitCode *int, summary SessionSummary) *SessionEnd {
	return &SessionEnd{
		Type:          "session_end",
		SchemaVersion: 1,
		SessionID:     id,
		ExitCode:      exitCode,
		Summary:       summary,
	}
}
