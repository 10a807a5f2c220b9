package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 是管线的 Prometheus 指标集。
type Metrics struct {
	requests      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	evidenceCount *prometheus.HistogramVec
	degraded      *prometheus.CounterVec
}

// NewMetrics 注册并返回指标集。reg 可为 nil（不注册，便于测试）。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answerflow",
			Name:      "requests_total",
			Help:      "Answer requests by intent and gate verdict.",
		}, []string{"intent", "verdict"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "answerflow",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		evidenceCount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "answerflow",
			Name:      "evidence_items",
			Help:      "Evidence items returned per retrieval side.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"side"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answerflow",
			Name:      "retrieval_degraded_total",
			Help:      "Retrieval sides degraded to empty results.",
		}, []string{"side"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.stageDuration, m.evidenceCount, m.degraded)
	}
	return m
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) observeEvidence(vector, graph int) {
	m.evidenceCount.WithLabelValues("vector").Observe(float64(vector))
	m.evidenceCount.WithLabelValues("graph").Observe(float64(graph))
}

func (m *Metrics) recordRequest(intent, verdict string) {
	m.requests.WithLabelValues(intent, verdict).Inc()
}

func (m *Metrics) recordDegraded(vector, graph bool) {
	if vector {
		m.degraded.WithLabelValues("vector").Inc()
	}
	if graph {
		m.degraded.WithLabelValues("graph").Inc()
	}
}
