package models

import "time"

// Mode is the acquisition coordinator state.
type Mode string

const (
	ModeConnecting   Mode = "CONNECTING"
	ModeLive         Mode = "LIVE"     // push channel open
	ModeDegraded     Mode = "DEGRADED" // push channel down, polling
	ModeShuttingDown Mode = "SHUTTING_DOWN"
)

// ConnectionStatus describes liveness of the acquisition layer.
type ConnectionStatus struct {
	Connected  bool       `json:"connected"`
	LastUpdate *time.Time `json:"lastUpdate"`      // nil until the first data receipt
	Error      string     `json:"error,omitempty"` // empty when the last event was a success
}

// Touch records a successful data receipt at now. LastUpdate never moves backwards.
func (s *ConnectionStatus) Touch(now time.Time) {
	s.Connected = true
	s.Error = ""
	if s.LastUpdate != nil && now.Before(*s.LastUpdate) {
		return
	}
	t := now.UTC()
	s.LastUpdate = &t
}

// Fail marks the connection down with the given message.
func (s *ConnectionStatus) Fail(msg string) {
	s.Connected = false
	if msg != "" {
		s.Error = msg
	}
}

// Clone returns a copy that shares no memory with s.
func (s ConnectionStatus) Clone() ConnectionStatus {
	if s.LastUpdate != nil {
		t := *s.LastUpdate
		s.LastUpdate = &t
	}
	return s
}
