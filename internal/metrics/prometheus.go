package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors are the Prometheus series for the scoring path, labelled by
// model family so families can be compared side by side.
type Collectors struct {
	Predictions *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Fallbacks   *prometheus.CounterVec
}

func NewCollectors() *Collectors {
	return &Collectors{
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelreg",
			Name:      "predictions_total",
			Help:      "Total predictions made.",
		}, []string{"family", "version"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelreg",
			Name:      "prediction_errors_total",
			Help:      "Total prediction errors by error type.",
		}, []string{"family", "type"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelreg",
			Name:      "prediction_latency_seconds",
			Help:      "Prediction latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"family"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelreg",
			Name:      "legacy_fallbacks_total",
			Help:      "Predictions served from unversioned legacy artifacts.",
		}, []string{"family"}),
	}
}

// Register adds all collectors to reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.Predictions, c.Errors, c.Latency, c.Fallbacks} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collectors) ObservePrediction(family, version string, d time.Duration) {
	if c == nil {
		return
	}
	c.Predictions.WithLabelValues(family, version).Inc()
	c.Latency.WithLabelValues(family).Observe(d.Seconds())
}

func (c *Collectors) ObserveError(family, errType string) {
	if c == nil {
		return
	}
	c.Errors.WithLabelValues(family, errType).Inc()
}

func (c *Collectors) ObserveFallback(family string) {
	if c == nil {
		return
	}
	c.Fallbacks.WithLabelValues(family).Inc()
}
