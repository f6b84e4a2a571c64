package ablage

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures operational counters for uploads and reaping.
type Metrics interface {
	IncUploadAccepted(class string)
	IncUploadRejected(reason string)
	IncReaped(class string)
	IncOrphansRemoved()
}

// NoopMetrics implements Metrics without emitting anything.
type NoopMetrics struct{}

func (NoopMetrics) IncUploadAccepted(string) {}
func (NoopMetrics) IncUploadRejected(string) {}
func (NoopMetrics) IncReaped(string)         {}
func (NoopMetrics) IncOrphansRemoved()       {}

// PromMetrics implements Metrics backed by Prometheus counters.
type PromMetrics struct {
	uploadsAccepted *prometheus.CounterVec
	uploadsRejected *prometheus.CounterVec
	reaped          *prometheus.CounterVec
	orphansRemoved  prometheus.Counter
	once            sync.Once
}

func NewPromMetrics(namespace string) *PromMetrics {
	p := &PromMetrics{
		uploadsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_accepted_total",
			Help:      "Accepted uploads by content class",
		}, []string{"class"}),
		uploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Rejected uploads by reason",
		}, []string{"reason"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_reaped_total",
			Help:      "Objects deleted by the reaper per content class",
		}, []string{"class"}),
		orphansRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_sidecars_removed_total",
			Help:      "Orphaned sidecar documents removed during reconciliation",
		}),
	}
	p.register()
	return p
}

func (p *PromMetrics) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.uploadsAccepted, p.uploadsRejected, p.reaped, p.orphansRemoved)
	})
}

func (p *PromMetrics) IncUploadAccepted(class string) {
	p.uploadsAccepted.WithLabelValues(class).Inc()
}

func (p *PromMetrics) IncUploadRejected(reason string) {
	p.uploadsRejected.WithLabelValues(reason).Inc()
}

func (p *PromMetrics) IncReaped(class string) {
	p.reaped.WithLabelValues(class).Inc()
}

func (p *PromMetrics) IncOrphansRemoved() {
	p.orphansRemoved.Inc()
}

// MetricsHandler returns an HTTP handler for /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
