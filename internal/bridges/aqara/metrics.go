package aqara

import "github.com/prometheus/client_golang/prometheus"

// Metric label values.
const (
	dropMalformed    = "malformed"
	dropPanic        = "handler_panic"
	dropQueueFull    = "queue_full"
	writeSent        = "sent"
	writeNoCreds     = "missing_credentials"
	writeNoAddress   = "no_address"
	writeFailed      = "failed"
	metricsNamespace = "aqara"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	Datagrams *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Events    *prometheus.CounterVec
	Writes    *prometheus.CounterVec
	Evictions prometheus.Counter
	Devices   prometheus.Gauge
	Gateways  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "datagrams_received_total",
			Help:      "Decoded datagrams received from gateways, by command.",
		}, []string{"cmd"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams dropped before or during handling, by reason.",
		}, []string{"reason"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Semantic events delivered to the accessory layer, by model.",
		}, []string{"model"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "writes_total",
			Help:      "Write commands attempted, by result.",
		}, []string{"result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "devices_evicted_total",
			Help:      "Devices removed by the staleness sweep.",
		}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "devices",
			Help:      "Devices currently in the registry.",
		}),
		Gateways: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "gateways",
			Help:      "Gateway sessions currently known.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Datagrams, m.Dropped, m.Events, m.Writes, m.Evictions, m.Devices, m.Gateways)
	}
	return m
}
