package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// Metrics records pass and recommendation counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	passDuration    *prometheus.HistogramVec
	passRuns        *prometheus.CounterVec
	edgesWritten    *prometheus.CounterVec
	degradedRecords *prometheus.CounterVec
	served          *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, logger *logrus.Logger) *Metrics {
	m := &Metrics{
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "similarity_pass_duration_seconds",
			Help:    "Duration of similarity recomputation passes",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"pass"}),
		passRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "similarity_pass_runs_total",
			Help: "Similarity passes by outcome",
		}, []string{"pass", "status"}),
		edgesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "similarity_edges_written_total",
			Help: "Similarity edges upserted",
		}, []string{"pass"}),
		degradedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "similarity_degraded_records_total",
			Help: "Records that fell back to default feature values",
		}, []string{"pass"}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendations_served_total",
			Help: "Recommended property ids returned, by strategy",
		}, []string{"strategy"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recommendation_source_failures_total",
			Help: "Candidate sources that failed and were blended as empty",
		}, []string{"source"}),
	}

	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.passDuration, m.passRuns, m.edgesWritten, m.degradedRecords, m.served, m.sourceFailures,
	} {
		// ignore if already registered
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warn("Failed to register metric")
			}
		}
	}
	return m
}

func (m *Metrics) observePass(report *models.BatchReport, err error, elapsed time.Duration) {
	if m == nil || report == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.passDuration.WithLabelValues(report.Pass).Observe(elapsed.Seconds())
	m.passRuns.WithLabelValues(report.Pass, status).Inc()
	m.edgesWritten.WithLabelValues(report.Pass).Add(float64(report.EdgesWritten))
	m.degradedRecords.WithLabelValues(report.Pass).Add(float64(report.Degraded))
}

func (m *Metrics) passRejected(pass string) {
	if m == nil {
		return
	}
	m.passRuns.WithLabelValues(pass, "rejected").Inc()
}

func (m *Metrics) recommendationsServed(strategy string, n int) {
	if m == nil {
		return
	}
	m.served.WithLabelValues(strategy).Add(float64(n))
}

func (m *Metrics) sourceFailed(source string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(source).Inc()
}
