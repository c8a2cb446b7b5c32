package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	ChannelsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channels_created_total",
			Help: "Channel creation attempts by result.",
		},
		[]string{"result"},
	)

	ChannelKeysWrappedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_keys_wrapped_total",
			Help: "Wrapped channel key rows persisted.",
		},
	)

	JoinRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "join_requests_total",
			Help: "Channel join calls by result (pending, joined, failure).",
		},
		[]string{"result"},
	)

	MessagesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_stored_total",
			Help: "Messages stored by kind (encrypted, plaintext).",
		},
		[]string{"kind"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Row change events published to the bus.",
		},
		[]string{"table", "type"},
	)
)

var registerOnce sync.Once

// MustRegister curries the HTTP collectors with the service name and
// registers every collector with the default registry. Later calls are no-ops.
func MustRegister(serviceName string) {
	registerOnce.Do(func() {
		HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
		HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)

		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			ChannelsCreatedTotal,
			ChannelKeysWrappedTotal,
			JoinRequestsTotal,
			MessagesStoredTotal,
			EventsPublishedTotal,
		)
	})
}
