package service

import (
	"context"

	"transformer_monitor/internal/acquisition"
	"transformer_monitor/internal/models"
)

type MonitoringService struct {
	src Source
}

func NewMonitoringService(src Source) *MonitoringService {
	return &MonitoringService{src: src}
}

// GetState returns the latest published state. Before the first update this is
// the CONNECTING baseline with every signal unknown.
func (s *MonitoringService) GetState(ctx context.Context) (models.TransformerState, error) {
	if err := ctx.Err(); err != nil {
		return models.TransformerState{}, err
	}
	return toState(s.src.Current()), nil
}

func (s *MonitoringService) Watch(fn func(models.TransformerState)) (cancel func()) {
	return s.src.Subscribe(func(u acquisition.Update) {
		fn(toState(u))
	})
}

func toState(u acquisition.Update) models.TransformerState {
	conn := u.Connection
	if conn.LastUpdate != nil {
		t := toUTC(*conn.LastUpdate)
		conn.LastUpdate = &t
	}
	return models.NewTransformerState(u.Version, u.Mode, u.Signals, conn)
}
