package metrics

import (
	"transformer_monitor/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Update sources.
const (
	SourcePush = "push"
	SourcePoll = "poll"
	SourceDemo = "demo"
)

var allModes = []models.Mode{
	models.ModeConnecting,
	models.ModeLive,
	models.ModeDegraded,
	models.ModeShuttingDown,
}

// Acquisition holds the collectors for the telemetry acquisition layer.
// A nil *Acquisition is valid and records nothing.
type Acquisition struct {
	pushAttempts  prometheus.Counter
	updates       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	parseFailures *prometheus.CounterVec
	mode          *prometheus.GaugeVec
	signals       *prometheus.GaugeVec
}

// NewAcquisition registers the acquisition collectors on reg.
func NewAcquisition(reg prometheus.Registerer) *Acquisition {
	f := promauto.With(reg)
	return &Acquisition{
		pushAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "transformer_push_connect_attempts_total",
			Help: "Total number of push channel connection attempts",
		}),
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transformer_updates_total",
			Help: "Total number of merged snapshot updates by source",
		}, []string{"source"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transformer_transport_failures_total",
			Help: "Total number of transport failures by source",
		}, []string{"source"}),
		parseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transformer_parse_failures_total",
			Help: "Total number of dropped malformed messages by source",
		}, []string{"source"}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transformer_acquisition_mode",
			Help: "1 for the current acquisition mode, 0 otherwise",
		}, []string{"mode"}),
		signals: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transformer_signal_value",
			Help: "Latest value per known signal; flags are exported as 0/1",
		}, []string{"signal"}),
	}
}

func (m *Acquisition) PushAttempt() {
	if m == nil {
		return
	}
	m.pushAttempts.Inc()
}

func (m *Acquisition) Update(source string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(source).Inc()
}

func (m *Acquisition) Failure(source string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(source).Inc()
}

func (m *Acquisition) ParseFailure(source string) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(source).Inc()
}

// SetMode flips the mode gauge so exactly one mode reads 1.
func (m *Acquisition) SetMode(mode models.Mode) {
	if m == nil {
		return
	}
	for _, md := range allModes {
		v := 0.0
		if md == mode {
			v = 1
		}
		m.mode.WithLabelValues(string(md)).Set(v)
	}
}

// ObserveSignals exports the known signals of s. Unknown keys are skipped.
func (m *Acquisition) ObserveSignals(s models.Signals) {
	if m == nil {
		return
	}
	for key := range s {
		switch models.KindOf(key) {
		case models.KindNumber:
			if v, ok := s.Number(key); ok {
				m.signals.WithLabelValues(key).Set(v)
			}
		case models.KindFlag:
			if v, ok := s.Flag(key); ok {
				m.signals.WithLabelValues(key).Set(boolToFloat(v))
			}
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
