package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"transformer_monitor/internal/models"
	"transformer_monitor/internal/repository"
)

type EventLogService struct {
	journal repository.JournalRepo
}

func NewEventLogService(journal repository.JournalRepo) *EventLogService {
	return &EventLogService{journal: journal}
}

var (
	// ErrInvalidFilter wraps every filter validation failure.
	ErrInvalidFilter = errors.New("invalid log filter")

	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")
	errUnknownEventType = errors.New("unknown event type")
)

var knownEventTypes = map[string]struct{}{
	models.EventModeChange: {},
	models.EventPushError:  {},
	models.EventPollError:  {},
	models.EventShutdown:   {},
}

// toUTC returns t in UTC, preserving zero time values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and uppercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the time range.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := toUTC(f.From)
	to := toUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", fmt.Errorf("%w: %w", ErrInvalidFilter, errInvalidTimeRange)
	}

	eventType := normalizeEventType(f.Type)
	if _, ok := knownEventTypes[eventType]; eventType != "" && !ok {
		return time.Time{}, time.Time{}, "", fmt.Errorf("%w: %w %q", ErrInvalidFilter, errUnknownEventType, eventType)
	}
	return from, to, eventType, nil
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.AcquisitionEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.journal.List(ctx, from, to, typ)
}
