// Package metrics holds the Prometheus collectors of the component runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	Containers    prometheus.Gauge       // Number of running containers
	ChangeCount   *prometheus.GaugeVec   // Change count per deployment unit
	Errors        *prometheus.CounterVec // Recorded container errors by kind
	Activations   *prometheus.CounterVec // Component instance activations
	Deactivations *prometheus.CounterVec // Component instance deactivations
}

// New creates the runtime collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Containers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccr_containers",
			Help: "Number of running CDI containers",
		}),
		ChangeCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ccr_container_change_count",
			Help: "Current change count of a container",
		}, []string{"bundle"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_container_errors_total",
			Help: "Total number of errors recorded on containers",
		}, []string{"bundle", "kind"}),
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_component_activations_total",
			Help: "Total number of component instance activations",
		}, []string{"bundle", "component"}),
		Deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccr_component_deactivations_total",
			Help: "Total number of component instance deactivations",
		}, []string{"bundle", "component"}),
	}

	reg.MustRegister(m.Containers)
	reg.MustRegister(m.ChangeCount)
	reg.MustRegister(m.Errors)
	reg.MustRegister(m.Activations)
	reg.MustRegister(m.Deactivations)

	return m
}

func (m *Metrics) ContainerStarted(bundle string) {
	if m == nil {
		return
	}
	m.Containers.Inc()
	m.ChangeCount.WithLabelValues(bundle).Set(0)
}

func (m *Metrics) ContainerStopped(bundle string) {
	if m == nil {
		return
	}
	m.Containers.Dec()
	m.ChangeCount.DeleteLabelValues(bundle)
}

func (m *Metrics) SetChangeCount(bundle string, value int64) {
	if m == nil {
		return
	}
	m.ChangeCount.WithLabelValues(bundle).Set(float64(value))
}

func (m *Metrics) ErrorRecorded(bundle, kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(bundle, kind).Inc()
}

func (m *Metrics) Activated(bundle, component string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(bundle, component).Inc()
}

func (m *Metrics) Deactivated(bundle, component string) {
	if m == nil {
		return
	}
	m.Deactivations.WithLabelValues(bundle, component).Inc()
}
