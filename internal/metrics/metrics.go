// Package metrics records per-variant request outcomes as Prometheus series
// and as an in-process snapshot served on /stats.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cortexguard/scanhub/internal/model"
)

const namespace = "scanhub"

// Snapshot mirrors the counters of one service variant.
type Snapshot struct {
	Inflight        int64   `json:"inflight"`
	Completed       int64   `json:"completed"`
	Rejected        int64   `json:"rejected"`
	Errors          int64   `json:"errors"`
	QueueDepth      int     `json:"queue_depth"`
	ProcessedJobs   int64   `json:"processed_jobs"`
	AvgProcessingMS float64 `json:"avg_processing_ms"`
}

type Recorder struct {
	variant string

	inflight        atomic.Int64
	completed       atomic.Int64
	rejected        atomic.Int64
	errors          atomic.Int64
	processed       atomic.Int64
	processingNanos atomic.Int64
	queueDepth      atomic.Pointer[func() int]

	inflightGauge   prometheus.Gauge
	completedTotal  *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec
	errorsTotal     prometheus.Counter
	scanDuration    prometheus.Histogram
	admissionWait   prometheus.Histogram
	queueDepthGauge prometheus.GaugeFunc
}

// NewRecorder builds a recorder for variant and registers its collectors
// with reg. A nil reg keeps the collectors unregistered.
func NewRecorder(variant string, reg prometheus.Registerer) *Recorder {
	labels := prometheus.Labels{"variant": variant}
	r := &Recorder{
		variant: variant,
		inflightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "inflight_requests",
			Help:        "Scans currently holding capacity or being processed.",
			ConstLabels: labels,
		}),
		completedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "scans_completed_total",
			Help:        "Scans that produced a verdict.",
			ConstLabels: labels,
		}, []string{"verdict"}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "scans_rejected_total",
			Help:        "Scans rejected or timed out, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "scan_errors_total",
			Help:        "Scans that failed with an unexpected error.",
			ConstLabels: labels,
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "scan_duration_seconds",
			Help:        "Wall-clock duration of simulated scans.",
			ConstLabels: labels,
			Buckets:     []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "admission_wait_seconds",
			Help:        "Time spent waiting for a capacity slot before admission.",
			ConstLabels: labels,
			Buckets:     []float64{.001, .01, .05, .1, .5, 1, 5},
		}),
	}
	r.queueDepthGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "queue_depth",
		Help:        "Jobs waiting in the background queue.",
		ConstLabels: labels,
	}, func() float64 { return float64(r.QueueDepth()) })

	if reg != nil {
		reg.MustRegister(
			r.inflightGauge,
			r.completedTotal,
			r.rejectedTotal,
			r.errorsTotal,
			r.scanDuration,
			r.admissionWait,
			r.queueDepthGauge,
		)
	}
	return r
}

func (r *Recorder) Variant() string { return r.variant }

// TrackQueue makes depth the source of queue_depth.
func (r *Recorder) TrackQueue(depth func() int) {
	r.queueDepth.Store(&depth)
}

func (r *Recorder) QueueDepth() int {
	if f := r.queueDepth.Load(); f != nil {
		return (*f)()
	}
	return 0
}

func (r *Recorder) Admitted(waited time.Duration) {
	r.admissionWait.Observe(waited.Seconds())
	r.inflight.Add(1)
	r.inflightGauge.Inc()
}

func (r *Recorder) Released() {
	r.inflight.Add(-1)
	r.inflightGauge.Dec()
}

func (r *Recorder) Completed(verdict model.Verdict, elapsed time.Duration) {
	r.completed.Add(1)
	r.completedTotal.WithLabelValues(string(verdict)).Inc()
	r.scanDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) Rejected(reason string) {
	r.rejected.Add(1)
	r.rejectedTotal.WithLabelValues(reason).Inc()
}

func (r *Recorder) Failed() {
	r.errors.Add(1)
	r.errorsTotal.Inc()
}

// JobStarted, JobCompleted and JobFailed satisfy worker.Observer.

func (r *Recorder) JobStarted() {
	r.inflight.Add(1)
	r.inflightGauge.Inc()
}

func (r *Recorder) JobCompleted(verdict model.Verdict, elapsed time.Duration) {
	r.Released()
	r.Completed(verdict, elapsed)
	r.processed.Add(1)
	r.processingNanos.Add(int64(elapsed))
}

func (r *Recorder) JobFailed(time.Duration) {
	r.Released()
	r.Failed()
}

func (r *Recorder) Snapshot() Snapshot {
	s := Snapshot{
		Inflight:      r.inflight.Load(),
		Completed:     r.completed.Load(),
		Rejected:      r.rejected.Load(),
		Errors:        r.errors.Load(),
		QueueDepth:    r.QueueDepth(),
		ProcessedJobs: r.processed.Load(),
	}
	if s.ProcessedJobs > 0 {
		avg := float64(r.processingNanos.Load()) / float64(s.ProcessedJobs) / float64(time.Millisecond)
		s.AvgProcessingMS = float64(int64(avg*100+0.5)) / 100
	}
	return s
}
