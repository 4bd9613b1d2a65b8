package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tracing-gateway/pkg/types"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of handled requests",
		},
		[]string{"type", "path", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "gateway_request_duration_seconds",
			Help: "Duration of request handling",
		},
		[]string{"type", "path"},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_total",
			Help: "Total number of messages through the receive/send primitives",
		},
		[]string{"direction", "type"},
	)

	activeConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Number of active connections",
		},
		[]string{"transport"},
	)
)

// MetricsMiddleware добавляет сбор метрик: счетчики запросов и сообщений,
// гистограмма длительности. Примитивы receive/send оборачиваются так же,
// как в промежуточном слое трассировки.
func MetricsMiddleware() types.Middleware {
	return func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc, next types.Handler) error {
		start := time.Now()

		countedReceive := func(ctx context.Context) (types.Message, error) {
			msg, err := receive(ctx)
			if err == nil {
				messagesTotal.WithLabelValues("receive", string(msg.Type)).Inc()
			}
			return msg, err
		}

		countedSend := func(ctx context.Context, msg types.Message) error {
			err := send(ctx, msg)
			if err == nil {
				messagesTotal.WithLabelValues("send", string(msg.Type)).Inc()
			}
			return err
		}

		err := next(ctx, scope, countedReceive, countedSend)

		status := "success"
		if err != nil {
			status = "error"
		}

		requestsTotal.WithLabelValues(scope.Type, scope.SpanName(), status).Inc()
		requestDuration.WithLabelValues(scope.Type, scope.SpanName()).Observe(time.Since(start).Seconds())

		return err
	}
}

// ConnectionTracker отслеживает активные соединения
type ConnectionTracker struct {
	transport string
}

func NewConnectionTracker(transport string) *ConnectionTracker {
	return &ConnectionTracker{transport: transport}
}

func (ct *ConnectionTracker) OnConnect() {
	activeConnections.WithLabelValues(ct.transport).Inc()
}

func (ct *ConnectionTracker) OnDisconnect() {
	activeConnections.WithLabelValues(ct.transport).Dec()
}
