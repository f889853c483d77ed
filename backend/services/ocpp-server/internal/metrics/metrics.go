package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private prometheus registry for the central system.
type Metrics struct {
	registry   *prometheus.Registry
	frames     *prometheus.CounterVec
	commands   *prometheus.CounterVec
	commandDur *prometheus.HistogramVec
	inflight   *prometheus.GaugeVec
}

// New registers collectors. sessions reports the number of registered charger sessions.
func New(namespace string, sessions func() float64) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	if sessions != nil {
		r.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "charger_sessions",
			Help:      "Charger sessions currently registered.",
		}, sessions))
	}

	frames := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ocpp_frames_total",
		Help:      "OCPP frames by direction, message type and action.",
	}, []string{"direction", "message_type", "action"})
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Central-system commands by action and dispatch status.",
	}, []string{"action", "status"})
	commandDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Time from issuing a command to its outcome.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"action", "status"})
	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "commands_inflight",
		Help:      "Commands awaiting a charger reply.",
	}, []string{"action"})
	r.MustRegister(frames, commands, commandDur, inflight)

	return &Metrics{
		registry:   r,
		frames:     frames,
		commands:   commands,
		commandDur: commandDur,
		inflight:   inflight,
	}
}

// ObserveFrame counts one frame.
func (m *Metrics) ObserveFrame(direction, messageType, action string) {
	m.frames.WithLabelValues(direction, messageType, action).Inc()
}

// CommandStart marks a command as in flight.
func (m *Metrics) CommandStart(action string) {
	m.inflight.WithLabelValues(action).Inc()
}

// CommandDone records the outcome of a command started at since.
func (m *Metrics) CommandDone(action, status string, since time.Time) {
	m.commands.WithLabelValues(action, status).Inc()
	m.commandDur.WithLabelValues(action, status).Observe(time.Since(since).Seconds())
	m.inflight.WithLabelValues(action).Dec()
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
