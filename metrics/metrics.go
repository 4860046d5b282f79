// Package metrics provides Prometheus instrumentation for components and
// their pipelines.
//
// A nil *Metrics or *Component records nothing, so instrumentation can be
// left unconfigured without guarding every call site.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opd-ai/vpuomx/omx"
)

const namespace = "vpuomx"

// Metrics contains the collectors shared by every component.
type Metrics struct {
	buffersTotal     *prometheus.CounterVec
	engineErrors     *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	retained         *prometheus.GaugeVec
	inFlight         *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New creates the collectors and registers them on registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.buffersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_total",
			Help:      "Buffers passed through a port",
		},
		[]string{"component", "port", "event"}, // event: submitted, completed, flushed
	)
	m.engineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Errors reported by the engine",
		},
		[]string{"component", "code"},
	)
	m.eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events delivered to the framework",
		},
		[]string{"component", "type"},
	)
	m.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Committed component state transitions",
		},
		[]string{"component", "from", "to"},
	)
	m.retained = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_buffers",
			Help:      "Output buffers bound to the engine as reference pictures",
		},
		[]string{"component"},
	)
	m.inFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffers_in_flight",
			Help:      "Buffers currently owned by the component",
		},
		[]string{"component"},
	)
	m.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "buffer_latency_seconds",
			Help:      "Time from input submission to the matching output",
			// 1ms to ~1s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 11),
		},
		[]string{"component"},
	)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.buffersTotal.Describe(ch)
	m.engineErrors.Describe(ch)
	m.eventsTotal.Describe(ch)
	m.transitionsTotal.Describe(ch)
	m.retained.Describe(ch)
	m.inFlight.Describe(ch)
	m.latency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.buffersTotal.Collect(ch)
	m.engineErrors.Collect(ch)
	m.eventsTotal.Collect(ch)
	m.transitionsTotal.Collect(ch)
	m.retained.Collect(ch)
	m.inFlight.Collect(ch)
	m.latency.Collect(ch)
}

// For returns the recorder for one component instance.
func (m *Metrics) For(component string) *Component {
	if m == nil {
		return nil
	}
	return &Component{m: m, name: component}
}

// Component records metrics labelled with a component name.
type Component struct {
	m    *Metrics
	name string
}

func (c *Component) buffer(port uint32, event string) {
	if c == nil {
		return
	}
	c.m.buffersTotal.WithLabelValues(c.name, strconv.FormatUint(uint64(port), 10), event).Inc()
}

// BufferSubmitted counts a buffer handed to the component.
func (c *Component) BufferSubmitted(port uint32) {
	if c == nil {
		return
	}
	c.buffer(port, "submitted")
	c.m.inFlight.WithLabelValues(c.name).Inc()
}

// BufferCompleted counts a buffer returned to the framework.
func (c *Component) BufferCompleted(port uint32) {
	if c == nil {
		return
	}
	c.buffer(port, "completed")
	c.m.inFlight.WithLabelValues(c.name).Dec()
}

// BufferFlushed counts a buffer returned empty by a flush or stop.
func (c *Component) BufferFlushed(port uint32) {
	if c == nil {
		return
	}
	c.buffer(port, "flushed")
	c.m.inFlight.WithLabelValues(c.name).Dec()
}

// Latency observes the time between input submission and output.
func (c *Component) Latency(d time.Duration) {
	if c == nil {
		return
	}
	c.m.latency.WithLabelValues(c.name).Observe(d.Seconds())
}

// EngineError counts an engine failure.
func (c *Component) EngineError(code omx.Error) {
	if c == nil {
		return
	}
	c.m.engineErrors.WithLabelValues(c.name, code.Error()).Inc()
}

// Event counts an event delivered to the framework.
func (c *Component) Event(t omx.EventType) {
	if c == nil {
		return
	}
	c.m.eventsTotal.WithLabelValues(c.name, t.String()).Inc()
}

// Transition counts a committed state change.
func (c *Component) Transition(from, to omx.State) {
	if c == nil {
		return
	}
	c.m.transitionsTotal.WithLabelValues(c.name, from.String(), to.String()).Inc()
}

// SetRetained reports the retention pool size.
func (c *Component) SetRetained(n int) {
	if c == nil {
		return
	}
	c.m.retained.WithLabelValues(c.name).Set(float64(n))
}
