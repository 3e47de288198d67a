package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arc_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_commands_total",
			Help: "Total number of database commands handled",
		},
		[]string{"command", "status"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arc_command_duration_seconds",
			Help:    "Database command latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"command"},
	)

	// Subscription metrics
	activeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arc_active_subscriptions",
			Help: "Number of registered change feed subscriptions",
		},
	)

	changeEventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_change_events_delivered_total",
			Help: "Total number of change events delivered to subscribers",
		},
		[]string{"kind"},
	)

	relayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arc_relay_connections",
			Help: "Number of open websocket relay connections",
		},
	)
)

// UnknownCommand is the command label recorded for names no handler serves,
// keeping client input out of label values.
const UnknownCommand = "unknown"

// RecordCommand records a handled command; status is "ok" or the error code.
func RecordCommand(command, status string, duration time.Duration) {
	commandsTotal.WithLabelValues(command, status).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// SetActiveSubscriptions sets the registry size gauge
func SetActiveSubscriptions(n int) {
	activeSubscriptions.Set(float64(n))
}

// RecordChangeEvent counts one delivered change; kind is created, updated, deleted or error.
func RecordChangeEvent(kind string) {
	changeEventsDelivered.WithLabelValues(kind).Inc()
}

// RelayConnectionOpened and RelayConnectionClosed track websocket connections.
func RelayConnectionOpened() { relayConnections.Inc() }

func RelayConnectionClosed() { relayConnections.Dec() }

// Middleware records request counts and latencies, skipping /health and /metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/health" || c.Path() == "/metrics" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		httpRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(c.Response().StatusCode())).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
