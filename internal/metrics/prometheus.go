package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus registers the pipeline counters on its own registry.
type Prometheus struct {
	registry      *prometheus.Registry
	ordersCreated prometheus.Counter
	publishFailed prometheus.Counter
	processed     *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	checkpoints   *prometheus.CounterVec
}

func NewPrometheus(namespace string) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders persisted by the creation workflow.",
		}),
		publishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Order-created notifications that exhausted their retries.",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Orders transitioned to Processed, by source.",
		}, []string{"source"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_skipped_total",
			Help:      "Processing attempts that left the order untouched.",
		}, []string{"source", "reason"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_committed_total",
			Help:      "Checkpoint advances, by segment.",
		}, []string{"segment"}),
	}
	p.registry.MustRegister(
		p.ordersCreated,
		p.publishFailed,
		p.processed,
		p.skipped,
		p.checkpoints,
		collectors.NewGoCollector(),
	)
	return p
}

func (p *Prometheus) OrderCreated()           { p.ordersCreated.Inc() }
func (p *Prometheus) PublishFailed()          { p.publishFailed.Inc() }
func (p *Prometheus) Processed(source string) { p.processed.WithLabelValues(source).Inc() }
func (p *Prometheus) Skipped(source, reason string) {
	p.skipped.WithLabelValues(source, reason).Inc()
}
func (p *Prometheus) CheckpointCommitted(segment string) {
	p.checkpoints.WithLabelValues(segment).Inc()
}

// Registry is exposed for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var _ Recorder = (*Prometheus)(nil)
