package hotreload

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports reload pass counters to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reloads      *prometheus.CounterVec
	passes       prometheus.Counter
	passDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotreload",
			Name:      "reloads_total",
			Help:      "Assets visited by reload passes, by store and result.",
		}, []string{"store", "result"}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hotreload",
			Name:      "passes_total",
			Help:      "Reload passes run on due frames.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hotreload",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a full reload pass over every store.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.reloads, m.passes, m.passDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observePass(store string, res PassResult) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(store, "reloaded").Add(float64(len(res.Reloaded)))
	m.reloads.WithLabelValues(store, "unchanged").Add(float64(len(res.Unchanged)))
	m.reloads.WithLabelValues(store, "failed").Add(float64(len(res.Failed)))
	m.reloads.WithLabelValues(store, "skipped").Add(float64(len(res.Skipped)))
}

func (m *Metrics) observeFrame(d time.Duration) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.passDuration.Observe(d.Seconds())
}
