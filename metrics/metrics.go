// Package metrics exports run and pool metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"virtual_tryon/pipeline"
	"virtual_tryon/pool"
)

const namespace = "tryon"

// Recorder is a pipeline.Observer backed by its own registry.
type Recorder struct {
	reg          *prometheus.Registry
	stageSeconds *prometheus.HistogramVec
	runSeconds   *prometheus.HistogramVec
	runs         *prometheus.CounterVec
}

var _ pipeline.Observer = (*Recorder)(nil)

// New registers the metrics. stats may be nil when no pool is running.
func New(stats func() pool.Stats) *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		reg: reg,
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"op", "stage", "outcome"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end run time.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"op", "state"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal state and failing stage.",
		}, []string{"op", "state", "failed_stage"}),
	}
	reg.MustRegister(
		r.stageSeconds,
		r.runSeconds,
		r.runs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		gauge := func(name, help string, read func(pool.Stats) int) prometheus.GaugeFunc {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(read(stats())) })
		}
		reg.MustRegister(
			gauge("capacity", "Worker pool slots.", func(s pool.Stats) int { return s.Capacity }),
			gauge("in_flight", "Calls holding a slot.", func(s pool.Stats) int { return s.InFlight }),
			gauge("waiting", "Calls queued for a slot.", func(s pool.Stats) int { return s.Waiting }),
		)
	}
	return r
}

func (r *Recorder) StageFinished(op string, stage pipeline.Stage, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.stageSeconds.WithLabelValues(op, string(stage), outcome).Observe(elapsed.Seconds())
}

func (r *Recorder) RunFinished(op string, state pipeline.State, failedAt pipeline.Stage, elapsed time.Duration) {
	r.runs.WithLabelValues(op, string(state), string(failedAt)).Inc()
	r.runSeconds.WithLabelValues(op, string(state)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
