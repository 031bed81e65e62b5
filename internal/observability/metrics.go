package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's Prometheus collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	faults        *prometheus.CounterVec
	windowStart   prometheus.Gauge
	lastCycle     prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homeworkbot_poll_cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homeworkbot_notifications_total",
			Help: "Telegram deliveries by result.",
		}, []string{"result"}),
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homeworkbot_faults_total",
			Help: "Cycle faults by kind.",
		}, []string{"kind"}),
		windowStart: f.NewGauge(prometheus.GaugeOpts{
			Name: "homeworkbot_window_start_seconds",
			Help: "Start of the current poll window (Unix seconds).",
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "homeworkbot_last_cycle_timestamp_seconds",
			Help: "When the last poll cycle finished (Unix seconds).",
		}),
	}
}

// ObserveCycle records one finished cycle. fault is empty on success.
func (m *Metrics) ObserveCycle(outcome, fault string, windowStart int64, at time.Time) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	if fault != "" {
		m.faults.WithLabelValues(fault).Inc()
	}
	m.windowStart.Set(float64(windowStart))
	m.lastCycle.Set(float64(at.Unix()))
}

// ObserveNotification records a delivery result ("sent" or "failed").
func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
