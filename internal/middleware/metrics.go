package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by path and status",
		},
		[]string{"path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	GateBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_blocked_total",
			Help: "Total join attempts blocked by the admission gate",
		},
	)
	MatchesFormed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matches_formed_total",
			Help: "Total pairings produced by the matchmaking queue",
		},
	)
	SessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_completed_total",
			Help: "Total sessions reaching a terminal state, by outcome",
		},
		[]string{"win_kind"},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_sessions",
			Help: "Sessions currently in a non-terminal state",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(HTTPDuration)
	prometheus.MustRegister(GateBlocked)
	prometheus.MustRegister(MatchesFormed)
	prometheus.MustRegister(SessionsCompleted)
	prometheus.MustRegister(ActiveSessions)
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequests.WithLabelValues(path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}
}
