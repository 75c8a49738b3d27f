package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mysqlops/mysqlbackup/pkg/restorestatus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mysqlbackup"

// Recorder owns a dedicated registry so metrics can be served over HTTP or dumped to a textfile.
type Recorder struct {
	registry      *prometheus.Registry
	runDuration   *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	restoreAge    *prometheus.GaugeVec
	lastRestore   *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_run_duration_seconds",
				Help:      "Duration of pipeline runs",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"pipeline", "result"},
		),
		stageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_failures_total",
				Help:      "Number of pipeline stage failures",
			},
			[]string{"pipeline", "stage"},
		),
		restoreAge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "restore_age_days",
				Help:      "Age in days of the newest backup restored successfully",
			},
			[]string{"replica_set"},
		),
		lastRestore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "restore_found",
				Help:      "Whether the replica set has a successful restore",
			},
			[]string{"replica_set"},
		),
	}
}

func (r *Recorder) ObserveRun(pipeline string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.runDuration.WithLabelValues(pipeline, result).Observe(duration.Seconds())
}

func (r *Recorder) StageFailed(pipeline, stage string) {
	r.stageFailures.WithLabelValues(pipeline, stage).Inc()
}

// SetRestoreAge records the age of the last restore. Replica sets without restores only report restore_found 0.
func (r *Recorder) SetRestoreAge(age restorestatus.Age) {
	if age.Days == nil {
		r.lastRestore.WithLabelValues(age.ReplicaSet).Set(0)
		r.restoreAge.DeleteLabelValues(age.ReplicaSet)
		return
	}
	r.lastRestore.WithLabelValues(age.ReplicaSet).Set(1)
	r.restoreAge.WithLabelValues(age.ReplicaSet).Set(float64(*age.Days))
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteToTextfile writes the metrics in the node exporter textfile collector format.
func (r *Recorder) WriteToTextfile(path string) error {
	if path == "" {
		return errors.New("textfile path must be set")
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("error writing metrics textfile: %v", err)
	}
	return nil
}
