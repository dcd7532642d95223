// Package metrics defines the Prometheus collectors of the field agent.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ProximityEvaluations counts finished evaluations by resulting state.
	ProximityEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveysgeo",
		Subsystem: "proximity",
		Name:      "evaluations_total",
		Help:      "Proximity evaluations by result (in_range, out_of_range, permission_denied, location_unavailable, target_unavailable, discarded).",
	}, []string{"result"})

	ProximityEvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "surveysgeo",
		Subsystem: "proximity",
		Name:      "evaluation_duration_seconds",
		Help:      "Time from permission request to published proximity state.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
	})

	SurveySubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveysgeo",
		Subsystem: "survey",
		Name:      "submissions_total",
		Help:      "Survey submission attempts by result.",
	}, []string{"result"})

	WorkflowsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "surveysgeo",
		Subsystem: "survey",
		Name:      "workflows_open",
		Help:      "Survey workflows currently open.",
	})

	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surveysgeo",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Requests to the remote surveys API by endpoint and result.",
	}, []string{"endpoint", "result"})
)

// Register registers all collectors with the default registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ProximityEvaluations,
			ProximityEvaluationDuration,
			SurveySubmissions,
			WorkflowsOpen,
			APIRequests,
		)
	})
}

func ObserveEvaluation(result string, started time.Time) {
	ProximityEvaluations.WithLabelValues(result).Inc()
	ProximityEvaluationDuration.Observe(time.Since(started).Seconds())
}
