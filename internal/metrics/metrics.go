package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// FeedRequests counts feed reads by cache outcome (hit, miss).
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foryou_feed_requests_total",
			Help: "For-You feed requests partitioned by cache outcome",
		},
		[]string{"result"},
	)

	// UpstreamFailures counts swallowed or surfaced Post Source failures by operation.
	UpstreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foryou_upstream_failures_total",
			Help: "Reddit API failures partitioned by operation",
		},
		[]string{"operation"},
	)

	// SummarizeFallbacks counts deterministic fallbacks taken instead of an LLM response.
	SummarizeFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foryou_summarize_fallbacks_total",
			Help: "Deterministic fallbacks used in place of summarization output",
		},
		[]string{"caller"},
	)

	// TriageActions counts recorded triage decisions by action.
	TriageActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foryou_triage_actions_total",
			Help: "Triage decisions partitioned by action",
		},
		[]string{"action"},
	)
)

// GinMiddleware records request counts and latencies labelled by the matched route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
