// Package metrics records run statistics on a private Prometheus registry
// that can be dumped as a node-exporter textfile after a batch run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rl_deconv"

// Recorder owns the collectors of one process.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	iterations    prometheus.Counter
	guarded       prometheus.Counter
	stageDuration *prometheus.HistogramVec
	lastMSE       prometheus.Gauge
}

// New registers a fresh set of collectors on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Deconvolution runs by outcome.",
		}, []string{"outcome"}),
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Richardson-Lucy iterations completed.",
		}),
		guarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guarded_divisions_total",
			Help:      "Relative-blur denominators replaced by epsilon.",
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		lastMSE: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_mse",
			Help:      "Mean squared error of the latest estimate against the sharp source.",
		}),
	}
}

// Registry exposes the underlying registry for scraping or inspection.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RunFinished counts a run as "ok" when err is nil and "error" otherwise.
func (r *Recorder) RunFinished(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.runs.WithLabelValues(outcome).Inc()
}

// Iteration records one completed iteration.
func (r *Recorder) Iteration(guarded int, mse float64) {
	r.iterations.Inc()
	if guarded > 0 {
		r.guarded.Add(float64(guarded))
	}
	r.lastMSE.Set(mse)
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile writes every collector to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
