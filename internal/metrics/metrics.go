package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "visionrelay"

// Transport error kinds used as the "kind" label.
const (
	ErrorKindTimeout = "timeout"
	ErrorKindDecode  = "decode"
	ErrorKindOther   = "transport"
)

// DispatchLatencyBuckets covers encode + round trip, 5ms to 10s.
var DispatchLatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1.0, 1.5, 2, 3, 5, 10,
}

// Collector owns the correlation and transport metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	Dispatched      prometheus.Counter
	Matched         prometheus.Counter
	PurgedFrames    prometheus.Counter
	StaleResults    prometheus.Counter
	EmptyResults    prometheus.Counter
	LocalDetections prometheus.Counter
	TransportErrors *prometheus.CounterVec
	InFlight        prometheus.Gauge
	DispatchLatency prometheus.Histogram
	SkippedFrames   *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "dispatched_total",
			Help: "Frames assigned a sequence id and queued for a remote result.",
		}),
		Matched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "matched_total",
			Help: "Results matched to their in-flight frame.",
		}),
		PurgedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "purged_frames_total",
			Help: "In-flight frames dropped because a newer result arrived first.",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "stale_results_total",
			Help: "Results discarded because their frame was already purged.",
		}),
		EmptyResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "empty_queue_results_total",
			Help: "Results discarded because nothing was in flight.",
		}),
		LocalDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "local_detections_total",
			Help: "Detections served by a synchronous local transport.",
		}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "errors_total",
			Help: "Failed detection calls by error kind.",
		}, []string{"kind"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "in_flight_frames",
			Help: "Frames currently waiting in the in-flight queue.",
		}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "transport", Name: "dispatch_duration_seconds",
			Help:    "Time from send to decoded result.",
			Buckets: DispatchLatencyBuckets,
		}),
		SkippedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "skipped_frames_total",
			Help: "Camera frames not dispatched, by reason.",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		c.Dispatched, c.Matched, c.PurgedFrames, c.StaleResults, c.EmptyResults,
		c.LocalDetections, c.TransportErrors, c.InFlight, c.DispatchLatency, c.SkippedFrames,
	)
	return c
}

// ObserveDispatch records the duration since start.
func (c *Collector) ObserveDispatch(start time.Time) {
	c.DispatchLatency.Observe(time.Since(start).Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
