package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP holds the collectors for the dashboard API. A nil *HTTP records nothing.
type HTTP struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rateLimited prometheus.Counter
	streams     prometheus.Gauge
	slowDrops   prometheus.Counter
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	f := promauto.With(reg)
	return &HTTP{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transformer_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transformer_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "transformer_http_rate_limited_total",
			Help: "Total number of requests rejected with 429",
		}),
		streams: f.NewGauge(prometheus.GaugeOpts{
			Name: "transformer_ws_streams",
			Help: "Number of open browser state streams",
		}),
		slowDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "transformer_ws_slow_clients_dropped_total",
			Help: "Total number of browser streams closed for falling behind",
		}),
	}
}

// Observe records one finished request.
func (m *HTTP) Observe(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *HTTP) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// StreamOpened returns a func that marks the stream closed.
func (m *HTTP) StreamOpened() (closed func()) {
	if m == nil {
		return func() {}
	}
	m.streams.Inc()
	return m.streams.Dec
}

func (m *HTTP) SlowClientDropped() {
	if m == nil {
		return
	}
	m.slowDrops.Inc()
}
