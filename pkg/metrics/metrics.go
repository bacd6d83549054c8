package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	gradingEngine = "grading_engine"

	// Run metrics
	runStatusTotal = "run_status_total"
	stageDuration  = "stage_duration_seconds"

	// Labels
	runStatusLabel = "status"
	workflowLabel  = "workflow"
	stageLabel     = "stage"
)

var runStatusTotalLabels = []string{
	runStatusLabel,
}

var stageDurationLabels = []string{
	workflowLabel,
	stageLabel,
}

/**
* Metrics definition
**/
var runStatusTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: gradingEngine,
		Name:      runStatusTotal,
		Help:      "number of run status transitions partitioned by target status",
	},
	runStatusTotalLabels,
)

var stageDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: gradingEngine,
		Name:      stageDuration,
		Help:      "stage execution duration partitioned by workflow and stage",
		Buckets:   []float64{0.1, 0.5, 1, 5, 30, 120, 600},
	},
	stageDurationLabels,
)

// ObserveRunStatus records one transition of a run into the given status.
func ObserveRunStatus(status string) {
	labels := prometheus.Labels{
		runStatusLabel: status,
	}
	runStatusTotalMetric.With(labels).Inc()
}

// NewStageTimer starts timing one stage execution. Call ObserveDuration on
// the returned timer when the stage finishes.
func NewStageTimer(workflow, stage string) *prometheus.Timer {
	labels := prometheus.Labels{
		workflowLabel: workflow,
		stageLabel:    stage,
	}
	return prometheus.NewTimer(stageDurationMetric.With(labels))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(runStatusTotalMetric)
	prometheus.MustRegister(stageDurationMetric)
}
