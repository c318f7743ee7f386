// Package metrics exports the player's Prometheus metrics.  A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Config struct {
	Namespace   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

type Metrics struct {
	connects     *prometheus.CounterVec
	started      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	promotions   *prometheus.CounterVec
	active       *prometheus.GaugeVec
	bytes        *prometheus.CounterVec
	dropped      prometheus.Counter
	readyLatency *prometheus.HistogramVec
}

func New(options ...Option) *Metrics {
	config := Config{
		Namespace: "videortc",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, o := range options {
		o(&config)
	}
	factory := promauto.With(config.Registry)
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}

	return &Metrics{
		connects: factory.NewCounterVec(
			prometheus.CounterOpts(opts(
				"channel_connects_total",
				"Control channel connection attempts by outcome",
			)), []string{"outcome"},
		),
		started: factory.NewCounterVec(
			prometheus.CounterOpts(opts(
				"transports_started_total",
				"Transports started by mode",
			)), []string{"mode"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts(opts(
				"transport_failures_total",
				"Transport failures by mode and kind",
			)), []string{"mode", "kind"},
		),
		promotions: factory.NewCounterVec(
			prometheus.CounterOpts(opts(
				"transport_promotions_total",
				"Transports that became active",
			)), []string{"mode"},
		),
		active: factory.NewGaugeVec(
			prometheus.GaugeOpts(opts(
				"transport_active",
				"1 for the currently active transport",
			)), []string{"mode"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts(opts(
				"received_bytes_total",
				"Binary frame bytes received by mode",
			)), []string{"mode"},
		),
		dropped: factory.NewCounter(
			prometheus.CounterOpts(opts(
				"ring_dropped_chunks_total",
				"Chunks rejected by a full ring buffer",
			)),
		),
		readyLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Name:        "transport_ready_seconds",
				Help:        "Time from start to ready by mode",
				ConstLabels: config.ConstLabels,
				Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			}, []string{"mode"},
		),
	}
}

func (m *Metrics) Connect(outcome string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Started(mode string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(mode).Inc()
}

func (m *Metrics) Failed(mode, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(mode, kind).Inc()
}

func (m *Metrics) Ready(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.readyLatency.WithLabelValues(mode).Observe(seconds)
}

// Active records that mode became active, replacing previous.  Either
// may be empty.
func (m *Metrics) Active(previous, mode string) {
	if m == nil {
		return
	}
	if previous != "" {
		m.active.WithLabelValues(previous).Set(0)
	}
	if mode != "" {
		m.active.WithLabelValues(mode).Set(1)
		m.promotions.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) Received(mode string, n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) Dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(float64(n))
}
