// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// guestRunOutcome labels for GuestRunsTotal.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

// Metrics is the pool's and dispatcher's Prometheus instrumentation,
// registered against a caller-supplied registerer. Production code shares
// the process-wide instance returned by Default(); tests construct their
// own against a fresh registry (testutil.NewPedanticRegistry) so assertions
// on one test's metrics can't see another's.
type Metrics struct {
	// PoolAvailable is the number of warm pool members currently idle.
	PoolAvailable prometheus.Gauge
	// PoolInUse is the number of warm pool members currently checked out.
	PoolInUse prometheus.Gauge
	// AdmissionInFlight is the number of requests currently admitted and
	// running, bounded by the admission semaphore's weight.
	AdmissionInFlight prometheus.Gauge
	// GuestRunsTotal counts guest runs by outcome: ok, failed, or timeout.
	GuestRunsTotal *prometheus.CounterVec
	// GuestRunDuration observes wall-clock guest run duration, pooled and
	// one-shot alike.
	GuestRunDuration prometheus.Histogram
}

// New registers a fresh set of metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PoolAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "codebroker",
			Subsystem: "pool",
			Name:      "available_members",
			Help:      "Warm sandbox containers currently idle and ready to accept a request.",
		}),
		PoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "codebroker",
			Subsystem: "pool",
			Name:      "in_use_members",
			Help:      "Warm sandbox containers currently checked out by an in-flight execution.",
		}),
		AdmissionInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "codebroker",
			Subsystem: "dispatch",
			Name:      "in_flight_executions",
			Help:      "Requests currently admitted and executing.",
		}),
		GuestRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codebroker",
			Subsystem: "dispatch",
			Name:      "guest_runs_total",
			Help:      "Guest container runs, labelled by outcome.",
		}, []string{"outcome"}),
		GuestRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "codebroker",
			Subsystem: "dispatch",
			Name:      "guest_run_duration_seconds",
			Help:      "Wall-clock duration of one guest container run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObservePoolOccupancy records the pool's current available/in-use split.
func (m *Metrics) ObservePoolOccupancy(available, inUse int) {
	m.PoolAvailable.Set(float64(available))
	m.PoolInUse.Set(float64(inUse))
}

// RecordGuestRun records one guest run's outcome and duration.
func (m *Metrics) RecordGuestRun(outcome string, duration time.Duration) {
	m.GuestRunsTotal.WithLabelValues(outcome).Inc()
	m.GuestRunDuration.Observe(duration.Seconds())
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return New(prometheus.DefaultRegisterer)
})

// Default returns the process-wide Metrics instance, registered against
// prometheus.DefaultRegisterer. cmd/codebroker's serve-pool subcommand
// exposes this registry's gatherer over HTTP; by default nothing serves it
// and metrics are just collected in-process.
func Default() *Metrics {
	return defaultMetrics()
}
