package flowauthor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "flowdraft"

var (
	// turnsTotal counts authoring turns by intent mode and outcome.
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Total authoring turns processed",
		},
		[]string{"mode", "status"},
	)

	// turnDuration is a histogram of end-to-end turn duration,
	// dominated by the LLM call.
	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end authoring turn duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	// formatRetriesTotal counts correction round-trips sent because the
	// model's output could not be parsed into a typed intent.
	formatRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "format_retries_total",
			Help:      "Total format-correction retries sent to the model",
		},
	)

	// plansPending gauges plans previewed but not yet approved or
	// discarded.
	plansPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "plans_pending",
			Help:      "Plans awaiting an approval decision",
		},
	)

	allMetrics = []prometheus.Collector{
		turnsTotal,
		turnDuration,
		formatRetriesTotal,
		plansPending,
	}
)

// RegisterMetrics registers the component's collectors with reg.
// Re-registration is tolerated so multiple component instances can
// share a registry.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range allMetrics {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func recordTurn(mode, status string, seconds float64) {
	turnsTotal.WithLabelValues(mode, status).Inc()
	turnDuration.WithLabelValues(mode).Observe(seconds)
}
