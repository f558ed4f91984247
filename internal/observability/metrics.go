package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "support_chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	postsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_posts_total",
			Help: "Message post attempts by outcome.",
		},
		[]string{"outcome"},
	)
	moderationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_moderation_actions_total",
			Help: "Moderation actions applied.",
		},
		[]string{"action"},
	)
	crisisAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_crisis_alerts_total",
			Help: "Crisis alerts written.",
		},
	)
	detectorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_detector_failures_total",
			Help: "Crisis detector failures by stage.",
		},
		[]string{"stage"},
	)
	busEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_bus_events_total",
			Help: "Events published on the notification bus.",
		},
		[]string{"type"},
	)
	busDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_bus_dropped_total",
			Help: "Events dropped because a subscriber buffer was full.",
		},
	)
	busReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_bus_consumer_restarts_total",
			Help: "Times the exchange consumer dropped and was restarted.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		postsTotal,
		moderationActionsTotal,
		crisisAlertsTotal,
		detectorFailuresTotal,
		busEventsTotal,
		busDroppedTotal,
		busReconnectsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncPost(outcome string) {
	postsTotal.WithLabelValues(outcome).Inc()
}

func IncModerationAction(action string) {
	moderationActionsTotal.WithLabelValues(action).Inc()
}

func IncCrisisAlert() {
	crisisAlertsTotal.Inc()
}

func IncDetectorFailure(stage string) {
	detectorFailuresTotal.WithLabelValues(stage).Inc()
}

func IncBusEvent(eventType string) {
	busEventsTotal.WithLabelValues(eventType).Inc()
}

func IncBusDropped() {
	busDroppedTotal.Inc()
}

func IncBusReconnect() {
	busReconnectsTotal.Inc()
}
