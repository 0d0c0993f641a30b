package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zlc_ai/messaging-bridge/internal/mainloop"
	"github.com/zlc_ai/messaging-bridge/internal/protocol"
)

// Command outcomes recorded by Metrics.
const (
	OutcomeDispatched = "dispatched"
	OutcomeRejected   = "rejected"
	OutcomeSkipped    = "skipped"
	OutcomeInvalid    = "invalid"
	OutcomeUnknown    = "unknown"
	OutcomeTimeout    = "timeout"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	reg prometheus.Registerer

	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	events            *prometheus.CounterVec
	lateContinuations *prometheus.CounterVec
	providerFaults    *prometheus.CounterVec
}

// NewMetrics creates and registers the bridge collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "commands_total",
			Help:      "Host commands handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bridge",
			Name:      "command_duration_seconds",
			Help:      "Time from command receipt to response.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"method"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "events_emitted_total",
			Help:      "Outbound events emitted to the host, by event name.",
		}, []string{"event"}),
		lateContinuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "late_continuations_dropped_total",
			Help:      "Provider continuations discarded because the bridge was invalidated first.",
		}, []string{"op"}),
		providerFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "provider_faults_total",
			Help:      "Provider calls that returned an error or panicked.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.commandDuration, m.events, m.lateContinuations, m.providerFaults)
	}
	return m
}

func (m *Metrics) command(method protocol.Method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(method), outcome).Inc()
	m.commandDuration.WithLabelValues(string(method)).Observe(elapsed.Seconds())
}

func (m *Metrics) event(name protocol.EventName) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(name)).Inc()
}

func (m *Metrics) lateContinuation(op string) {
	if m == nil {
		return
	}
	m.lateContinuations.WithLabelValues(op).Inc()
}

func (m *Metrics) providerFault(op string) {
	if m == nil {
		return
	}
	m.providerFaults.WithLabelValues(op).Inc()
}

// observeDroppedEvents exposes a counter read from fn.
func (m *Metrics) observeDroppedEvents(fn func() int64) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "provider_events_dropped_total",
		Help:      "Provider events discarded outside an active listener registration.",
	}, func() float64 { return float64(fn()) }))
}

// observeLoop exposes the main loop's queue depth and task counters.
func (m *Metrics) observeLoop(loop *mainloop.Loop) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "mainloop",
			Name:      "pending_tasks",
			Help:      "Tasks waiting on the main loop.",
		}, func() float64 { return float64(loop.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "mainloop",
			Name:      "tasks_total",
			Help:      "Tasks run on the main loop.",
		}, func() float64 { return float64(loop.Executed()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "mainloop",
			Name:      "task_panics_total",
			Help:      "Main loop tasks that panicked.",
		}, func() float64 { return float64(loop.Panics()) }),
	)
}
