package calib

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the calibration loop.
type Metrics struct {
	registry         *prometheus.Registry
	iterationsTotal  prometheus.Counter
	unitUpdatesTotal prometheus.Counter
	errorsTotal      prometheus.Counter
	lastMaxStep      prometheus.Gauge
	converged        prometheus.Gauge
	managedUnits     prometheus.Gauge
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	iterationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fibrocal_iterations_total",
		Help: "Total number of whole-collection update passes",
	})
	unitUpdatesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fibrocal_unit_updates_total",
		Help: "Total number of per-unit update calls",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fibrocal_errors_total",
		Help: "Total number of failed update passes",
	})
	lastMaxStep := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fibrocal_last_max_density_step",
		Help: "Largest per-segment density change in the most recent pass",
	})
	converged := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fibrocal_converged",
		Help: "1 if the most recent pass was below the step tolerance",
	})
	managedUnits := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fibrocal_managed_units",
		Help: "Number of minimization units in the collection",
	})

	registry.MustRegister(
		iterationsTotal,
		unitUpdatesTotal,
		errorsTotal,
		lastMaxStep,
		converged,
		managedUnits,
	)

	return &Metrics{
		registry:         registry,
		iterationsTotal:  iterationsTotal,
		unitUpdatesTotal: unitUpdatesTotal,
		errorsTotal:      errorsTotal,
		lastMaxStep:      lastMaxStep,
		converged:        converged,
		managedUnits:     managedUnits,
	}
}

// ObserveIteration records the outcome of one update pass.
func (m *Metrics) ObserveIteration(maxStep float64, converged bool, unitUpdates int) {
	m.iterationsTotal.Inc()
	m.unitUpdatesTotal.Add(float64(unitUpdates))
	m.lastMaxStep.Set(maxStep)
	if converged {
		m.converged.Set(1)
	} else {
		m.converged.Set(0)
	}
}

// IncErrors increments the failed-pass counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetManagedUnits sets the unit-count gauge.
func (m *Metrics) SetManagedUnits(n int) {
	m.managedUnits.Set(float64(n))
}

// Handler returns an http.Handler serving the metrics. updateGauges is
// called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
