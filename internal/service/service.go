package service

import (
	"context"

	"transformer_monitor/internal/acquisition"
	"transformer_monitor/internal/logger"
	"transformer_monitor/internal/models"
	"transformer_monitor/internal/repository"
)

// Source is the acquisition layer as seen by the services.
type Source interface {
	Current() acquisition.Update
	Subscribe(fn func(acquisition.Update)) (cancel func())
}

// Monitoring exposes the latest transformer state and its changes.
type Monitoring interface {
	GetState(ctx context.Context) (models.TransformerState, error)
	// Watch calls fn for every published state until cancel is called.
	// fn runs on the acquisition goroutine and must not block.
	Watch(fn func(models.TransformerState)) (cancel func())
}

// EventLog exposes the acquisition journal with filtering.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.AcquisitionEvent, error)
}

// Recorder journals acquisition transitions until ctx is cancelled.
type Recorder interface {
	Run(ctx context.Context) error
}

type Service struct {
	Monitoring
	EventLog
	Recorder
}

// NewService wires the repositories and the acquisition source into services.
func NewService(repos *repository.Repository, src Source, opts RecorderOptions, log *logger.Logger) *Service {
	return &Service{
		Monitoring: NewMonitoringService(src),
		EventLog:   NewEventLogService(repos.Journal),
		Recorder:   NewJournalRecorder(repos.Journal, src, opts, log),
	}
}
