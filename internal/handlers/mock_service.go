package handlers

import (
	"context"
	"sync"
	"time"

	"transformer_monitor/internal/models"
	"transformer_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockMonitoring struct {
	state models.TransformerState
	err   error

	mu       sync.Mutex
	watchers map[int]func(models.TransformerState)
	next     int
	watched  chan struct{}

	// gate, when set, holds GetState until closed.
	gate chan struct{}
}

func newMockMonitoring(st models.TransformerState) *mockMonitoring {
	return &mockMonitoring{
		state:    st,
		watchers: map[int]func(models.TransformerState){},
		watched:  make(chan struct{}, 8),
	}
}

func (m *mockMonitoring) GetState(ctx context.Context) (models.TransformerState, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.err
}

func (m *mockMonitoring) Watch(fn func(models.TransformerState)) func() {
	m.mu.Lock()
	if m.watchers == nil {
		m.watchers = map[int]func(models.TransformerState){}
	}
	id := m.next
	m.next++
	m.watchers[id] = fn
	m.mu.Unlock()
	if m.watched != nil {
		m.watched <- struct{}{}
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

// publish delivers st to every watcher from a single goroutine, like the coordinator.
func (m *mockMonitoring) publish(st models.TransformerState) {
	m.mu.Lock()
	m.state = st
	fns := make([]func(models.TransformerState), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (m *mockMonitoring) watcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

type mockEventLog struct {
	resp     []models.AcquisitionEvent
	err      error
	calls    int
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.AcquisitionEvent, error) {
	m.calls++
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewHandler(s, nil, opts).InitRoutes()
}
