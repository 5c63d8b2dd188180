package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections_active",
		Help: "Websocket connections currently admitted",
	})
	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connections_rejected_total",
		Help: "Handshakes rejected for missing or invalid identity",
	})
	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_location_updates_total",
		Help: "update_location events accepted",
	})
	InvalidEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_invalid_events_total",
		Help: "Inbound frames that failed decoding or validation",
	})
	OutboundDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_outbound_drops_total",
		Help: "Frames dropped because a peer's send buffer was full",
	})
	RelayDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_relay_drops_total",
		Help: "Space broadcasts not relayed to other instances because the relay channel was full",
	})
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_rate_limited_total",
		Help: "Location events whose proximity work was skipped by the rate limiter",
	})
	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_pipeline_errors_total",
		Help: "Errors swallowed at the location pipeline boundary",
	}, []string{"stage"})

	BufferStaged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_buffer_staged_total",
		Help: "Location records staged into the write-behind buffer",
	})
	FlushedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_flush_records_total",
		Help: "Buffered location records persisted",
	})
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_flush_failures_total",
		Help: "Buffered location records dropped after a failed write",
	})
	FlushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "realtime_flush_latency_seconds",
		Help:    "Duration of one buffer flush",
		Buckets: prometheus.DefBuckets,
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_metadata_cache_lookups_total",
		Help: "Vehicle metadata lookups by result",
	}, []string{"result"})

	PushDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_push_dispatch_total",
		Help: "Proximity push dispatch attempts by outcome",
	}, []string{"outcome"})
)
