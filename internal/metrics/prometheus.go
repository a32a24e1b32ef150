package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all divert daemon metrics.
type Registry struct {
	// Packet flow
	PacketsTotal *prometheus.CounterVec
	BytesTotal   *prometheus.CounterVec

	// Firewall rule lifecycle
	RulesInstalled  prometheus.Gauge
	InstallFailures *prometheus.CounterVec

	// System metrics
	Uptime prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.PacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divert_packets_total",
		Help: "Total packets received from divert sockets",
	}, []string{"element"})

	r.BytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divert_bytes_total",
		Help: "Total bytes received from divert sockets",
	}, []string{"element"})

	r.RulesInstalled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "divert_rules_installed",
		Help: "Firewall divert rules currently installed",
	})

	r.InstallFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divert_install_failures_total",
		Help: "Failed firewall rule installations",
	}, []string{"element"})

	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "divert_uptime_seconds",
		Help: "Daemon uptime in seconds",
	})

	return r
}

// RecordPacket records one received packet of n bytes.
func (r *Registry) RecordPacket(element string, n int) {
	r.PacketsTotal.WithLabelValues(element).Inc()
	r.BytesTotal.WithLabelValues(element).Add(float64(n))
}

// RuleInstalled marks one more rule as active.
func (r *Registry) RuleInstalled() {
	r.RulesInstalled.Inc()
}

// RuleRemoved marks one rule as torn down.
func (r *Registry) RuleRemoved() {
	r.RulesInstalled.Dec()
}

// RecordInstallFailure records a failed installation for an element.
func (r *Registry) RecordInstallFailure(element string) {
	r.InstallFailures.WithLabelValues(element).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
