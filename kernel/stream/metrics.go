package stream

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmxmxh/procmesh/kernel/experiment"
)

const namespace = "procmesh"

// Metrics exposes the latest snapshot as Prometheus gauges labelled by
// process kind and termination policy.
type Metrics struct {
	registry  *prometheus.Registry
	simTime   prometheus.Gauge
	frames    prometheus.Counter
	clients   prometheus.GaugeFunc
	active    *prometheus.GaugeVec
	retained  *prometheus.GaugeVec
	maxProc   *prometheus.GaugeVec
	delivered *prometheus.GaugeVec
	repeats   *prometheus.GaugeVec
	latency   *prometheus.GaugeVec
	misses    *prometheus.GaugeVec
}

// NewMetrics registers the collectors on a fresh registry. clients, when not
// nil, reports the number of connected viewers.
func NewMetrics(clients func() int) *Metrics {
	labels := []string{"process", "policy"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	if clients == nil {
		clients = func() int { return 0 }
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "simulated_time", Help: "Simulated time of the latest frame.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total", Help: "Frames observed.",
		}),
		clients: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_clients", Help: "Connected stream clients.",
		}, func() float64 { return float64(clients()) }),
		active:    gauge("active_instances", "Process instances run in the latest round, summed over devices."),
		retained:  gauge("retained_instances", "Process instances kept after the latest round, summed over devices."),
		maxProc:   gauge("max_proc", "Largest number of instances any device has run in one round."),
		delivered: gauge("deliveries", "First deliveries so far."),
		repeats:   gauge("repeat_deliveries", "Repeated deliveries so far."),
		latency:   gauge("mean_latency", "Mean first-delivery latency."),
		misses:    gauge("filter_false_positives", "Seen-filter hits overruled by the delivery ledger."),
	}
	m.registry.MustRegister(m.simTime, m.frames, m.clients,
		m.active, m.retained, m.maxProc, m.delivered, m.repeats, m.latency, m.misses)
	return m
}

// Observe records a snapshot.
func (m *Metrics) Observe(snap experiment.Snapshot) {
	m.simTime.Set(snap.Time)
	m.frames.Inc()
	for _, row := range snap.Rows {
		process, policy, _ := strings.Cut(row.Variant, "/")
		m.active.WithLabelValues(process, policy).Set(float64(row.Active))
		m.retained.WithLabelValues(process, policy).Set(float64(row.Retained))
		m.maxProc.WithLabelValues(process, policy).Set(float64(row.MaxProc))
		m.delivered.WithLabelValues(process, policy).Set(float64(row.DeliveryCount))
		m.repeats.WithLabelValues(process, policy).Set(float64(row.RepeatCount))
		m.latency.WithLabelValues(process, policy).Set(row.MeanLatency)
		m.misses.WithLabelValues(process, policy).Set(float64(row.FilterMisses))
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
