package tuning

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes recorded by Telemetry.
const (
	statusOK      = "ok"
	statusFailed  = "failed"
	statusTimeout = "timeout"
)

// Telemetry holds the Prometheus collectors updated by an Engine. A nil
// *Telemetry records nothing.
type Telemetry struct {
	tasks     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	bestScore *prometheus.GaugeVec
}

// NewTelemetry creates the tuning collectors and registers them with reg.
// It panics if reg already holds collectors with the same names.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treetune",
			Subsystem: "tuning",
			Name:      "tasks_total",
			Help:      "Evaluated (configuration, fold) tasks by family and outcome",
		}, []string{"family", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treetune",
			Subsystem: "tuning",
			Name:      "task_duration_seconds",
			Help:      "Wall time of one (configuration, fold) fit and score",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"family"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "treetune",
			Subsystem: "tuning",
			Name:      "tasks_in_flight",
			Help:      "Tasks currently being evaluated",
		}),
		bestScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "treetune",
			Subsystem: "tuning",
			Name:      "best_mean_score",
			Help:      "Best aggregate mean selected per family and metric",
		}, []string{"family", "metric"}),
	}
}

func (t *Telemetry) taskStarted() {
	if t == nil {
		return
	}
	t.inFlight.Inc()
}

func (t *Telemetry) taskDone(family, status string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.inFlight.Dec()
	t.tasks.WithLabelValues(family, status).Inc()
	t.duration.WithLabelValues(family).Observe(elapsed.Seconds())
}

// RecordSelection sets the best mean score gauge for family and metric.
func (t *Telemetry) RecordSelection(family, metric string, mean float64) {
	if t == nil {
		return
	}
	t.bestScore.WithLabelValues(family, metric).Set(mean)
}
