package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "modelvideo"

const (
	ResultCompleted = "completed"
	ResultUploaded  = "uploaded"
	ResultFailed    = "failed"

	StageReady   = "ready"
	StageUpload  = "upload"
	StagePublic  = "make_public"
	StageRecord  = "record"
	StageProduce = "produce"
)

// Metrics owns a private registry. A nil *Metrics is valid and records
// nothing, which keeps the CLI free of metrics wiring.
type Metrics struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	uploadBytes   prometheus.Counter
	retries       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{registry: reg}

	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Upload runs by final result",
	}, []string{"result"})
	reg.MustRegister(m.runs)

	m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of each upload pipeline stage",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})
	reg.MustRegister(m.stageDuration)

	m.uploadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "Bytes written to object storage",
	})
	reg.MustRegister(m.uploadBytes)

	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Retried attempts by operation",
	}, []string{"op"})
	reg.MustRegister(m.retries)

	return m
}

func (m *Metrics) ObserveRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) AddUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.Add(float64(n))
}

func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
