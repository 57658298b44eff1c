// Package metrics defines the Prometheus collectors shared across the
// messaging core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the server exports.
type Registry struct {
	reg *prometheus.Registry

	ActiveConnections  prometheus.Gauge
	AuthFailures       prometheus.Counter
	EventsFanned       *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	SlowConsumerCloses prometheus.Counter
	RateLimited        prometheus.Counter
	Bans               prometheus.Counter

	MessagesSent    prometheus.Counter
	SendLatency     prometheus.Histogram
	DecryptFailures prometheus.Counter

	IndexBatchSize  prometheus.Histogram
	IndexDropped    prometheus.Counter
	PushNotified    prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New(serviceName string) *Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	r := &Registry{
		reg: reg,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sonet_ws_connections", Help: "Current number of live websocket connections.", ConstLabels: labels,
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_ws_auth_failures_total", Help: "Rejected websocket handshakes.", ConstLabels: labels,
		}),
		EventsFanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sonet_events_fanned_total", Help: "Events enqueued to recipient connections.", ConstLabels: labels,
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sonet_events_dropped_total", Help: "Low-priority events shed under backpressure.", ConstLabels: labels,
		}, []string{"type"}),
		SlowConsumerCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_slow_consumer_closes_total", Help: "Connections closed because their queue could not accept a message event.", ConstLabels: labels,
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_rate_limited_total", Help: "Inbound frames rejected by the per-connection limiter.", ConstLabels: labels,
		}),
		Bans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_connection_bans_total", Help: "Connections banned for repeated rate-limit violations.", ConstLabels: labels,
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_messages_sent_total", Help: "Messages accepted by SendMessage.", ConstLabels: labels,
		}),
		SendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "sonet_send_latency_seconds", Help: "SendMessage end-to-end latency.", Buckets: prometheus.DefBuckets, ConstLabels: labels,
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_decrypt_failures_total", Help: "AEAD open failures surfaced to callers.", ConstLabels: labels,
		}),
		IndexBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "sonet_index_batch_size", Help: "Indexer batch commit sizes.", Buckets: []float64{1, 8, 32, 128, 256, 512}, ConstLabels: labels,
		}),
		IndexDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_index_dropped_total", Help: "Index updates shed under queue backpressure.", ConstLabels: labels,
		}),
		PushNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sonet_push_notified_total", Help: "Offline recipients handed to the push notifier.", ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		r.ActiveConnections, r.AuthFailures, r.EventsFanned, r.EventsDropped,
		r.SlowConsumerCloses, r.RateLimited, r.Bans, r.MessagesSent,
		r.SendLatency, r.DecryptFailures, r.IndexBatchSize, r.IndexDropped,
		r.PushNotified,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
