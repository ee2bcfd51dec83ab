package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the retrieval gateway counters.
type Metrics struct {
	outcomes     *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	inconsistent prometheus.Counter
	swept        prometheus.Counter
}

// NewMetrics registers the retrieval counters on reg. A nil reg yields unregistered
// collectors, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_retrievals_total",
				Help: "Retrieval requests by result kind or error kind.",
			},
			[]string{"outcome"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_retrieval_skipped_total",
				Help: "Requested documents left out of a retrieval result.",
			},
			[]string{"reason"},
		),
		inconsistent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_inconsistent_records_total",
			Help: "Document records whose stored object is missing.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_bundles_swept_total",
			Help: "Expired archive bundles removed from object storage.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.skipped, m.inconsistent, m.swept} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) outcome(kind string) {
	if m != nil {
		m.outcomes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) skip(reason string, n int) {
	if m != nil && n > 0 {
		m.skipped.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) inconsistentRecord() {
	if m != nil {
		m.inconsistent.Inc()
	}
}

func (m *Metrics) bundlesSwept(n int) {
	if m != nil && n > 0 {
		m.swept.Add(float64(n))
	}
}
