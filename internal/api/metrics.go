package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kalambet/sciask/internal/research"
)

// Outcomes recorded on askRequests.
const (
	outcomeOK         = "ok"
	outcomeUpstream   = "upstream_error"
	outcomeCanceled   = "canceled"
	outcomeClientGone = "client_gone"
)

var (
	askRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciask_ask_requests_total",
			Help: "Answer streams relayed, by outcome.",
		},
		[]string{"outcome"},
	)

	forwardedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciask_forwarded_events_total",
			Help: "Events forwarded from the research backend, by event name.",
		},
		[]string{"event"},
	)

	upstreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciask_upstream_failures_total",
			Help: "Error events produced by the proxy, by error code.",
		},
		[]string{"code"},
	)

	streamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sciask_stream_duration_seconds",
			Help:    "Time from request to stream close.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

// eventLabel keeps the event label set bounded.
func eventLabel(name string) string {
	switch name {
	case research.EventStatus, research.EventAnswer, research.EventDocument,
		research.EventError, research.EventComplete:
		return name
	default:
		return "other"
	}
}
