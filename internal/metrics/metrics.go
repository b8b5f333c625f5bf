package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coordinator"

var (
	inboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_inbound_messages_total",
		Help:      "Inbound websocket messages by type",
	}, []string{"type"})

	errorReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_error_replies_total",
		Help:      "Error envelopes replied to clients by code",
	}, []string{"code"})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Currently open websocket connections",
	})

	rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms",
		Help:      "Rooms with at least one member",
	})

	broadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "broadcast_recipients",
		Help:      "Recipients per room broadcast",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
	})

	droppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_dropped_sends_total",
		Help:      "Outbound messages dropped because a send queue stayed full",
	})

	whiteboardDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "whiteboard_duplicates_total",
		Help:      "Whiteboard commands dropped as retransmissions",
	})

	chatPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_persist_failures_total",
		Help:      "Chat messages not delivered because persistence failed",
	})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications handled by origin and outcome",
	}, []string{"origin", "outcome"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func InboundMessage(msgType string) { inboundMessages.WithLabelValues(msgType).Inc() }
func ErrorReply(code string)        { errorReplies.WithLabelValues(code).Inc() }
func ConnectionOpened()             { connections.Inc() }
func ConnectionClosed()             { connections.Dec() }
func RoomCreated()                  { rooms.Inc() }
func RoomDestroyed()                { rooms.Dec() }
func Broadcast(recipients int)      { broadcastFanout.Observe(float64(recipients)) }
func SendDropped()                  { droppedSends.Inc() }
func WhiteboardDuplicate()          { whiteboardDuplicates.Inc() }
func ChatPersistFailed()            { chatPersistFailures.Inc() }

// Notification records one notification. origin is "local" or "remote";
// outcome is "delivered" or "offline".
func Notification(origin, outcome string) {
	notifications.WithLabelValues(origin, outcome).Inc()
}

// Middleware records request metrics. Paths are labeled by route pattern
// to keep label cardinality bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := prometheus.Labels{
				"method": c.Request().Method,
				"path":   path,
				"status": strconv.Itoa(status),
			}
			httpRequests.With(labels).Inc()
			httpLatency.With(labels).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
