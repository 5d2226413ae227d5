package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-client/internal/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_http_requests_total",
			Help: "Total number of adapter HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_http_request_duration_seconds",
			Help:    "Adapter HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	restRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_rest_requests_total",
			Help: "Total number of REST calls made to the chat backend.",
		},
		[]string{"op", "outcome"},
	)
	restRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_rest_request_duration_seconds",
			Help:    "REST call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	wsConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_client_ws_connection_state",
			Help: "Current realtime connection state (1 for the active state).",
		},
		[]string{"state"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_ws_events_total",
			Help: "Total number of realtime events by direction.",
		},
		[]string{"direction", "event"},
	)
	wsReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_ws_reconnects_total",
			Help: "Total number of scheduled reconnect attempts.",
		},
	)
	messageSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_message_sends_total",
			Help: "Optimistic message sends by outcome.",
		},
		[]string{"outcome"},
	)
	typingUsersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_client_typing_users",
			Help: "Number of remote typing indicators currently shown.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

var connectionStates = []models.ConnectionState{
	models.StateDisconnected,
	models.StateConnecting,
	models.StateConnected,
	models.StateAuthFailed,
}

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		restRequestsTotal,
		restRequestDuration,
		wsConnectionState,
		wsEventsTotal,
		wsReconnectsTotal,
		messageSendsTotal,
		typingUsersActive,
		amqpPublishErrorsTotal,
	)
	SetWSState(models.StateDisconnected)
}

// HTTPMetricsMiddleware records adapter request counts and latencies.
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

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func ObserveREST(op, outcome string, elapsed time.Duration) {
	restRequestsTotal.WithLabelValues(op, outcome).Inc()
	restRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func SetWSState(state models.ConnectionState) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		wsConnectionState.WithLabelValues(string(s)).Set(value)
	}
}

func IncWSEvent(direction, event string) {
	wsEventsTotal.WithLabelValues(direction, event).Inc()
}

func IncReconnect() {
	wsReconnectsTotal.Inc()
}

func IncMessageSend(outcome string) {
	messageSendsTotal.WithLabelValues(outcome).Inc()
}

func SetTypingUsers(n int) {
	typingUsersActive.Set(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
