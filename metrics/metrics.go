// Package metrics is the process-wide prometheus registry (§4.15):
// worker queue depth, live peer count, resolver backlog, messages
// appended (own/remote), and files resolved. Pull-based only; nothing
// here pushes or remote-writes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge and counter this node exposes.
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth      prometheus.Gauge
	LivePeers       prometheus.Gauge
	ResolverBacklog prometheus.Gauge
	MessagesTotal   *prometheus.CounterVec
	FilesResolved   prometheus.Counter
}

// New constructs a fresh registry and registers every collector on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatnode_queue_depth",
			Help: "Number of tasks currently outstanding on the worker queue.",
		}),
		LivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatnode_live_peers",
			Help: "Number of peers with a currently live session.",
		}),
		ResolverBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatnode_resolver_backlog",
			Help: "Number of file ids wanted but not yet resolved.",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatnode_messages_appended_total",
			Help: "Messages appended to any repository, labeled by origin.",
		}, []string{"origin"}),
		FilesResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatnode_files_resolved_total",
			Help: "Files successfully downloaded and added to the local catalog.",
		}),
	}
	return m
}

// OwnMessageAppended records one locally authored append.
func (m *Metrics) OwnMessageAppended() { m.MessagesTotal.WithLabelValues("own").Inc() }

// RemoteMessagesAppended records n appends received from a remote peer.
func (m *Metrics) RemoteMessagesAppended(n int) {
	m.MessagesTotal.WithLabelValues("remote").Add(float64(n))
}

// Handler returns the pull-based HTTP handler an external scraper polls.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
