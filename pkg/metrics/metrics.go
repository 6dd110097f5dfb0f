package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Model gauges
	DNSEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dalidock_dns_entries_total",
			Help: "Total number of DNS entries currently in the model (ordinary + synthetic)",
		},
	)

	LBEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dalidock_lb_entries_total",
			Help: "Total number of load-balancer entries currently in the model",
		},
	)

	// Generation/reload counters
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dalidock_generations_total",
			Help: "Total number of generation cycles run, by generator",
		},
		[]string{"generator"},
	)

	ReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dalidock_reloads_total",
			Help: "Total number of downstream reload/restart commands issued, by generator and action",
		},
		[]string{"generator", "action"},
	)

	// Source adapter counters
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dalidock_source_events_total",
			Help: "Total number of lifecycle events observed, by source and kind",
		},
		[]string{"source", "kind"},
	)

	VMIPResolutionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dalidock_vm_ip_resolution_seconds",
			Help:    "Time spent resolving a VM's IP address before it registers, or times out",
			Buckets: prometheus.DefBuckets,
		},
	)

	VMIPTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dalidock_vm_ip_timeouts_total",
			Help: "Total number of VM start events dropped because no IP was found before LIBVIRT_IP_TIMEOUT",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DNSEntriesTotal,
		LBEntriesTotal,
		GenerationsTotal,
		ReloadsTotal,
		EventsTotal,
		VMIPResolutionSeconds,
		VMIPTimeoutsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
