package metrics

import (
	"time"

	"github.com/nao1215/lure/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives measurements. Implementations must be safe for
// concurrent use by any number of connection goroutines.
type Recorder interface {
	// ConnectionOpened is called when a handler starts serving a connection.
	ConnectionOpened(p model.Protocol)

	// ConnectionClosed is called when the connection ends.
	ConnectionClosed(p model.Protocol, d time.Duration)

	// EventRecorded is called for every event handed to the sink.
	EventRecorded(p model.Protocol, t model.EventType)

	// EventDropped is called when the event queue is full.
	EventDropped()

	// SinkError is called when persisting or publishing an event fails.
	SinkError(sink string)

	// ReportCycle is called at the end of each reporting cycle.
	ReportCycle(groups, failed int)

	// FindingSubmitted is called for each finding accepted by the tracker.
	FindingSubmitted(p model.Protocol, t model.EventType)

	// TrackerError is called when a tracker request fails.
	TrackerError(operation string)
}

// Namespace prefixes every metric name.
const Namespace = "lure"

// Prometheus implements Recorder on a dedicated registry.
type Prometheus struct {
	registry *prometheus.Registry

	connections       *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	connDuration      *prometheus.HistogramVec
	events            *prometheus.CounterVec
	eventsDropped     prometheus.Counter
	sinkErrors        *prometheus.CounterVec
	reportCycles      prometheus.Counter
	reportGroups      *prometheus.CounterVec
	findings          *prometheus.CounterVec
	trackerErrors     *prometheus.CounterVec
}

// NewPrometheus creates a Prometheus recorder with its own registry,
// including the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}, []string{"protocol"}),
		activeConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Connections currently being served",
		}, []string{"protocol"}),
		connDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time from accept to close",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"protocol"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_total",
			Help:      "Total number of events emitted by handlers",
		}, []string{"protocol", "event_type"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the sink queue was full",
		}),
		sinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sink_errors_total",
			Help:      "Failed event writes per sink",
		}, []string{"sink"}),
		reportCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "report_cycles_total",
			Help:      "Completed reporting cycles",
		}),
		reportGroups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "report_groups_total",
			Help:      "Event groups processed by the reporting loop",
		}, []string{"result"}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "findings_submitted_total",
			Help:      "Findings accepted by the vulnerability tracker",
		}, []string{"protocol", "event_type"}),
		trackerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tracker_errors_total",
			Help:      "Failed vulnerability tracker requests",
		}, []string{"operation"}),
	}
}

// Registry returns the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

// ConnectionOpened implements Recorder.
func (m *Prometheus) ConnectionOpened(p model.Protocol) {
	m.connections.WithLabelValues(p.String()).Inc()
	m.activeConnections.WithLabelValues(p.String()).Inc()
}

// ConnectionClosed implements Recorder.
func (m *Prometheus) ConnectionClosed(p model.Protocol, d time.Duration) {
	m.activeConnections.WithLabelValues(p.String()).Dec()
	m.connDuration.WithLabelValues(p.String()).Observe(d.Seconds())
}

// EventRecorded implements Recorder.
func (m *Prometheus) EventRecorded(p model.Protocol, t model.EventType) {
	m.events.WithLabelValues(p.String(), t.String()).Inc()
}

// EventDropped implements Recorder.
func (m *Prometheus) EventDropped() {
	m.eventsDropped.Inc()
}

// SinkError implements Recorder.
func (m *Prometheus) SinkError(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// ReportCycle implements Recorder.
func (m *Prometheus) ReportCycle(groups, failed int) {
	m.reportCycles.Inc()
	m.reportGroups.WithLabelValues("ok").Add(float64(groups - failed))
	m.reportGroups.WithLabelValues("failed").Add(float64(failed))
}

// FindingSubmitted implements Recorder.
func (m *Prometheus) FindingSubmitted(p model.Protocol, t model.EventType) {
	m.findings.WithLabelValues(p.String(), t.String()).Inc()
}

// TrackerError implements Recorder.
func (m *Prometheus) TrackerError(operation string) {
	m.trackerErrors.WithLabelValues(operation).Inc()
}

// Nop discards every measurement.
type Nop struct{}

// ConnectionOpened implements Recorder.
func (Nop) ConnectionOpened(model.Protocol) {}

// ConnectionClosed implements Recorder.
func (Nop) ConnectionClosed(model.Protocol, time.Duration) {}

// EventRecorded implements Recorder.
func (Nop) EventRecorded(model.Protocol, model.EventType) {}

// EventDropped implements Recorder.
func (Nop) EventDropped() {}

// SinkError implements Recorder.
func (Nop) SinkError(string) {}

// ReportCycle implements Recorder.
func (Nop) ReportCycle(int, int) {}

// FindingSubmitted implements Recorder.
func (Nop) FindingSubmitted(model.Protocol, model.EventType) {}

// TrackerError implements Recorder.
func (Nop) TrackerError(string) {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Nop{}
)
