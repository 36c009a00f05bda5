// Package metrics holds the Prometheus instrumentation for a colugo node.
// Every Metrics method is nil-safe: a nil *Metrics is a valid, inert no-op,
// so components can accept an optional *Metrics without branching on nil
// at every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds colugo's Prometheus collectors on an isolated registry, so
// that two nodes running in the same process (as in tests) don't collide
// on the default global registry.
type Metrics struct {
	Registry *prometheus.Registry

	ServicesRegistered *prometheus.CounterVec
	ServicesWithdrawn  *prometheus.CounterVec
	ServicesDiscovered *prometheus.CounterVec
	RequestTimeouts    *prometheus.CounterVec
	SocketRecycles     *prometheus.CounterVec
	MDNSQueryFailures  prometheus.Counter
	DirectorySize      *prometheus.GaugeVec
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ServicesRegistered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colugo_services_registered_total",
				Help: "Local endpoints registered into the directory, by kind.",
			},
			[]string{"kind"},
		),
		ServicesWithdrawn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colugo_services_withdrawn_total",
				Help: "Local server services withdrawn from mDNS, by kind.",
			},
			[]string{"kind"},
		),
		ServicesDiscovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colugo_services_discovered_total",
				Help: "Remote services observed via mDNS browse, by kind.",
			},
			[]string{"kind"},
		),
		RequestTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colugo_request_timeouts_total",
				Help: "REQ sends that hit their timeout before a reply arrived, by topic.",
			},
			[]string{"topic"},
		),
		SocketRecycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colugo_socket_recycles_total",
				Help: "Transport sockets recycled after a stuck receive, by kind.",
			},
			[]string{"kind"},
		),
		MDNSQueryFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "colugo_mdns_query_failures_total",
				Help: "Synchronous mDNS ServiceInfo queries that timed out or errored.",
			},
		),
		DirectorySize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "colugo_directory_size",
				Help: "Current number of services held in a directory, by subset (servers/clients).",
			},
			[]string{"subset"},
		),
	}

	reg.MustRegister(
		m.ServicesRegistered,
		m.ServicesWithdrawn,
		m.ServicesDiscovered,
		m.RequestTimeouts,
		m.SocketRecycles,
		m.MDNSQueryFailures,
		m.DirectorySize,
	)
	return m
}

func (m *Metrics) incServicesRegistered(kind string) {
	if m == nil {
		return
	}
	m.ServicesRegistered.WithLabelValues(kind).Inc()
}

// ServiceRegistered records a local endpoint being added to the directory.
func (m *Metrics) ServiceRegistered(kind string) { m.incServicesRegistered(kind) }

// ServiceWithdrawn records a local server service being withdrawn from mDNS.
func (m *Metrics) ServiceWithdrawn(kind string) {
	if m == nil {
		return
	}
	m.ServicesWithdrawn.WithLabelValues(kind).Inc()
}

// ServiceDiscovered records a remote service observed via mDNS browse.
func (m *Metrics) ServiceDiscovered(kind string) {
	if m == nil {
		return
	}
	m.ServicesDiscovered.WithLabelValues(kind).Inc()
}

// RequestTimeout records a REQ send that hit its timeout window.
func (m *Metrics) RequestTimeout(topic string) {
	if m == nil {
		return
	}
	m.RequestTimeouts.WithLabelValues(topic).Inc()
}

// SocketRecycled records a transport socket being closed and recreated.
func (m *Metrics) SocketRecycled(kind string) {
	if m == nil {
		return
	}
	m.SocketRecycles.WithLabelValues(kind).Inc()
}

// MDNSQueryFailed records a failed synchronous ServiceInfo query.
func (m *Metrics) MDNSQueryFailed() {
	if m == nil {
		return
	}
	m.MDNSQueryFailures.Inc()
}

// SetDirectorySize records the current size of a directory subset.
func (m *Metrics) SetDirectorySize(subset string, n int) {
	if m == nil {
		return
	}
	m.DirectorySize.WithLabelValues(subset).Set(float64(n))
}
