package notification

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics は通知パイプラインのPrometheusメトリクス。
// サーバーごとに専用のレジストリを持つため、テストで複数生成しても衝突しない。
type Metrics struct {
	registry *prometheus.Registry

	Invocations        *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	InvocationDuration prometheus.Histogram
	Recipients         prometheus.Histogram
}

// NewMetrics は新しいレジストリにメトリクスを登録して返す。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "friendpush",
				Subsystem: "notification",
				Name:      "invocations_total",
				Help:      "Total number of pipeline invocations by terminal state",
			},
			[]string{"state"},
		),
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "friendpush",
				Subsystem: "notification",
				Name:      "deliveries_total",
				Help:      "Total number of delivery outcomes",
			},
			[]string{"outcome"}, // success, failure, unregistered
		),
		InvocationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "friendpush",
				Subsystem: "notification",
				Name:      "invocation_duration_seconds",
				Help:      "Pipeline invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Recipients: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "friendpush",
				Subsystem: "notification",
				Name:      "recipients",
				Help:      "Number of resolved recipients per invocation",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
	}
}

// Handler は/metrics用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observe は1回の呼び出しの結果を記録する。mがnilの場合は何もしない。
func (m *Metrics) observe(state State, recipients int, outcomes []Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(string(state)).Inc()
	m.InvocationDuration.Observe(elapsed.Seconds())
	m.Recipients.Observe(float64(recipients))
	for _, o := range outcomes {
		switch {
		case o.Success:
			m.Deliveries.WithLabelValues("success").Inc()
		case o.Unregistered:
			m.Deliveries.WithLabelValues("unregistered").Inc()
		default:
			m.Deliveries.WithLabelValues("failure").Inc()
		}
	}
}
