package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Error stages besides the sampler's own source names.
const (
	stageSample    = "sample"
	stageAggregate = "aggregate"
	stagePanic     = "panic"
)

type metrics struct {
	duration prometheus.Histogram
	cycles   prometheus.Counter
	errors   *prometheus.CounterVec
}

func newMetrics(ns string) *metrics {
	return &metrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "collection",
			Name:      "duration_seconds",
			Help:      "Time spent in one sample and aggregate cycle.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "collection",
			Name:      "cycles_total",
			Help:      "Completed collection cycles.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "collection",
			Name:      "errors_total",
			Help:      "Collection failures by stage or sampler source.",
		}, []string{"stage"}),
	}
}

// Register adds the scheduler's own metrics to reg.
func (s *Scheduler) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.metrics.duration, s.metrics.cycles, s.metrics.errors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
