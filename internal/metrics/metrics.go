// ABOUTME: Prometheus metrics for the playback engine and remote server
// ABOUTME: Uses a private registry and tolerates a nil receiver
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the Prometheus collectors. All methods are safe on a nil
// receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Registry metrics
	playing prometheus.Gauge
	queued  prometheus.Gauge

	// Playback lifecycle metrics
	plays        *prometheus.CounterVec
	completions  prometheus.Counter
	loopRestarts prometheus.Counter
	promotions   prometheus.Counter
	stops        *prometheus.CounterVec
	errors       *prometheus.CounterVec

	// Remote server metrics
	clients       prometheus.Gauge
	commands      *prometheus.CounterVec
	rateLimited   prometheus.Counter
	tickDurations prometheus.Histogram

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// New creates metrics registered on a private registry
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()
	if err := m.registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *Metrics) initMetrics() {
	m.playing = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "soundboard_playing_clips",
		Help: "Number of clips currently playing",
	})
	m.queued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "soundboard_queued_clips",
		Help: "Number of clips waiting in the queue",
	})

	m.plays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundboard_plays_total",
			Help: "Total number of streams started",
		},
		[]string{"device"},
	)
	m.completions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "soundboard_completions_total",
		Help: "Total number of clips that played to the end",
	})
	m.loopRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "soundboard_loop_restarts_total",
		Help: "Total number of looping clips restarted",
	})
	m.promotions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "soundboard_queue_promotions_total",
		Help: "Total number of queued clips promoted to playback",
	})
	m.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundboard_stops_total",
			Help: "Total number of clips stopped by a command",
		},
		[]string{"reason"},
	)
	m.errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundboard_playback_errors_total",
			Help: "Total number of reported playback errors",
		},
		[]string{"kind"},
	)

	m.clients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "soundboard_remote_clients",
		Help: "Number of connected remote clients",
	})
	m.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundboard_remote_commands_total",
			Help: "Total number of remote commands received",
		},
		[]string{"type"},
	)
	m.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "soundboard_remote_rate_limited_total",
		Help: "Total number of remote commands rejected by the rate limiter",
	})
	m.tickDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "soundboard_tick_duration_seconds",
		Help:    "Time spent in one scheduler tick",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~200ms
	})

	m.collectors = []prometheus.Collector{
		m.playing, m.queued,
		m.plays, m.completions, m.loopRestarts, m.promotions, m.stops, m.errors,
		m.clients, m.commands, m.rateLimited, m.tickDurations,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}

// SetPlaying records the size of CurrentlyPlaying
func (m *Metrics) SetPlaying(n int) {
	if m == nil {
		return
	}
	m.playing.Set(float64(n))
}

// SetQueued records the size of Queued
func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}

// RecordPlay counts a started stream
func (m *Metrics) RecordPlay(device string) {
	if m == nil {
		return
	}
	m.plays.WithLabelValues(device).Inc()
}

// RecordCompletion counts a clip that reached its end
func (m *Metrics) RecordCompletion() {
	if m == nil {
		return
	}
	m.completions.Inc()
}

// RecordLoopRestart counts a loop restart
func (m *Metrics) RecordLoopRestart() {
	if m == nil {
		return
	}
	m.loopRestarts.Inc()
}

// RecordPromotion counts a queue promotion
func (m *Metrics) RecordPromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

// RecordStops counts clips stopped for reason
func (m *Metrics) RecordStops(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stops.WithLabelValues(reason).Add(float64(n))
}

// RecordError counts a reported playback error by kind
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// ObserveTick records the duration of a scheduler tick in seconds
func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.tickDurations.Observe(seconds)
}

// SetClients records the number of connected remote clients
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

// RecordCommand counts a remote command by message type
func (m *Metrics) RecordCommand(msgType string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(msgType).Inc()
}

// RecordRateLimited counts a rejected remote command
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
