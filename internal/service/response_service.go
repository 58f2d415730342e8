package service

import "time"

// LogFilter selects journal entries by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "MODE_CHANGE", "PUSH_ERROR", "POLL_ERROR", "SHUTDOWN"
}
