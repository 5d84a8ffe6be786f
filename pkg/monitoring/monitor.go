package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// ProposalTransitions counts workflow calls by transition and outcome
	// (ok, not_found, forbidden, invalid_state, validation, threshold_unmet, conflict, error).
	ProposalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proposal_transitions_total",
			Help: "Proposal workflow transitions by outcome",
		},
		[]string{"transition", "outcome"},
	)

	ProposalSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proposal_event_subscribers",
			Help: "Open websocket connections receiving proposal events",
		},
	)

	ProposalEventsPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proposal_events_pushed_total",
			Help: "Proposal events written to subscriber queues",
		},
	)

	LessonPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lesson_publishes_total",
			Help: "Lesson changes applied by published proposals",
		},
		[]string{"action"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(ProposalTransitions)
		prometheus.MustRegister(LessonPublishes)
		prometheus.MustRegister(ProposalSubscribers)
		prometheus.MustRegister(ProposalEventsPushed)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
