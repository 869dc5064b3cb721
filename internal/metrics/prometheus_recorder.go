package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	fetchDuration    *prom.HistogramVec
	processDuration  *prom.HistogramVec
	jobRuns          *prom.CounterVec
	rowsProcessed    prom.Counter
	statesTracked    prom.Gauge
	snapshotsPending prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.fetchDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "demographics",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetch cycles against the feature service",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.processDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "demographics",
			Name:      "process_duration_seconds",
			Help:      "Duration of snapshot processing cycles",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.jobRuns = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "demographics",
			Name:      "job_runs_total",
			Help:      "Job run counts by job and outcome",
		}, []string{"job", "outcome"})
		pr.rowsProcessed = prom.NewCounter(prom.CounterOpts{
			Namespace: "demographics",
			Name:      "rows_processed_total",
			Help:      "County rows successfully aggregated",
		})
		pr.statesTracked = prom.NewGauge(prom.GaugeOpts{
			Namespace: "demographics",
			Name:      "states_tracked",
			Help:      "States updated by the most recent process cycle",
		})
		pr.snapshotsPending = prom.NewGauge(prom.GaugeOpts{
			Namespace: "demographics",
			Name:      "snapshots_pending",
			Help:      "Unprocessed snapshots in the data directory",
		})
		reg.MustRegister(pr.fetchDuration, pr.processDuration, pr.jobRuns, pr.rowsProcessed, pr.statesTracked, pr.snapshotsPending)
	})
	return pr
}

func resultLabel(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailed
}

func (p *PrometheusRecorder) ObserveFetchDuration(d time.Duration, success bool) {
	if p == nil || p.fetchDuration == nil {
		return
	}
	p.fetchDuration.WithLabelValues(resultLabel(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveProcessDuration(d time.Duration, success bool) {
	if p == nil || p.processDuration == nil {
		return
	}
	p.processDuration.WithLabelValues(resultLabel(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobRun(jobID, outcome string) {
	if p == nil || p.jobRuns == nil {
		return
	}
	p.jobRuns.WithLabelValues(jobID, outcome).Inc()
}

func (p *PrometheusRecorder) AddRowsProcessed(n int) {
	if p == nil || p.rowsProcessed == nil {
		return
	}
	p.rowsProcessed.Add(float64(n))
}

func (p *PrometheusRecorder) SetStatesTracked(n int) {
	if p == nil || p.statesTracked == nil {
		return
	}
	p.statesTracked.Set(float64(n))
}

func (p *PrometheusRecorder) SetSnapshotsPending(n int) {
	if p == nil || p.snapshotsPending == nil {
		return
	}
	p.snapshotsPending.Set(float64(n))
}
