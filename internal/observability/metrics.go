package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripsync", Name: "matches_total", Help: "Total number of request pairs promoted to matched"})
	MatchSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tripsync",
		Name:      "match_search_seconds",
		Help:      "Latency of a full two-stage match search",
		Buckets:   prometheus.DefBuckets,
	})

	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tripsync", Name: "oracle_requests_total", Help: "Distance oracle calls by provider and outcome"},
		[]string{"provider", "outcome"},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tripsync", Name: "connections_total", Help: "Connection handshake operations by action"},
		[]string{"action"},
	)

	LiveChannels = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "tripsync", Name: "live_channels", Help: "Currently registered live notification channels"})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "tripsync", Name: "notifications_dropped_total", Help: "Events dropped because no live channel was registered"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "tripsync", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tripsync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
