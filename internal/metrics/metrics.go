package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "irrigation_sync"

// Run outcomes
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Failure stages of a single system
const (
	StagePoll       = "poll"
	StageIngest     = "ingest"
	StageET         = "et"
	StageAutomation = "automation"
	StagePanic      = "panic"
)

// Metrics holds the worker's prometheus collectors
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runsSkipped      prometheus.Counter
	runDuration      prometheus.Histogram
	systemFailures   *prometheus.CounterVec
	readingsIngested prometheus.Counter
	estimatesWritten prometheus.Counter
	commandsDecided  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total sync runs by outcome.",
		}, []string{"outcome"}),
		runsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_skipped_total",
			Help:      "Triggers skipped because a run was already in progress.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Histogram of sync run durations.",
			Buckets:   prometheus.DefBuckets,
		}),
		systemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "system_failures_total",
			Help:      "Per-system processing failures by stage.",
		}, []string{"stage"}),
		readingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Readings persisted from channel feeds.",
		}),
		estimatesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "et_estimates_written_total",
			Help:      "ET estimates stored.",
		}),
		commandsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_decided_total",
			Help:      "Irrigation commands written by the automation, by command.",
		}, []string{"command"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.runsTotal,
			m.runsSkipped,
			m.runDuration,
			m.systemFailures,
			m.readingsIngested,
			m.estimatesWritten,
			m.commandsDecided,
		)
	}

	return m
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(outcome string, elapsed time.Duration) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RunSkipped() {
	m.runsSkipped.Inc()
}

func (m *Metrics) SystemFailed(stage string) {
	m.systemFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ReadingsIngested(n int) {
	if n > 0 {
		m.readingsIngested.Add(float64(n))
	}
}

func (m *Metrics) EstimateWritten() {
	m.estimatesWritten.Inc()
}

func (m *Metrics) CommandDecided(command string) {
	m.commandsDecided.WithLabelValues(command).Inc()
}
