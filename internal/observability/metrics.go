package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_total", Help: "Ride lifecycle transitions by resulting status"},
		[]string{"status"},
	)
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accept attempts that lost the race or hit a non-requested ride"})
	OffersSent      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "Ride offers fanned out to candidate drivers"})
	NoDrivers       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "no_drivers_found_total", Help: "Dispatches that found no online driver in range"})
	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "dispatch_latency_seconds", Help: "Time to query presence and fan out offers"})
	DriversOnline   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "commands_total", Help: "Inbound commands by event and outcome"},
		[]string{"event", "outcome"},
	)
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "deliveries_total", Help: "Outbound event deliveries to channels"},
		[]string{"event", "result"},
	)
	ConnectedChannels = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connected_channels", Help: "Live transport channels"})

	MirrorRetries  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "presence_mirror_retries_total", Help: "Presence mirror write retries"})
	MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "presence_mirror_failures_total", Help: "Presence mirror writes that exhausted their backoff and were requeued"})
	SinkErrors     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_event_sink_errors_total", Help: "Ride events the external sink rejected"})

	LocationMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_messages_total", Help: "Driver location messages consumed from Kafka by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
