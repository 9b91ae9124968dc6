// Package metrics exposes prometheus collectors for the call simulator.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/xiaot623/salescall/internal/domain"
)

// Collector holds every metric the server exports.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sessionsActive  prometheus.Gauge
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec

	liveCallsActive   prometheus.Gauge
	statusTransitions *prometheus.CounterVec

	relayChunks    prometheus.Counter
	relayTurns     *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the collectors with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently held in memory",
	})
	c.sessionsStarted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_started_total",
		Help:      "Sessions started",
	})
	c.sessionsEnded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions ended, by reason",
		},
		[]string{"reason"},
	)

	c.liveCallsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_calls_active",
		Help:      "Live voice calls currently connected",
	})
	c.statusTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_connection_transitions_total",
			Help:      "Speech-to-text connection status transitions",
		},
		[]string{"status"},
	)

	c.relayChunks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_chunks_total",
		Help:      "Reply chunks relayed to clients",
	})
	c.relayTurns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_turns_total",
			Help:      "Conversational turns, by outcome",
		},
		[]string{"outcome"},
	)
	c.upstreamErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream service failures, by phase",
		},
		[]string{"phase"},
	)

	return c
}

// Middleware records request counts and latency.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}
			path := ctx.Path()
			if path == "" {
				path = "unmatched"
			}
			c.RecordHTTPRequest(ctx.Request().Method, path, ctx.Response().Status, time.Since(start))
			return nil
		}
	}
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionStarted counts a new session.
func (c *Collector) SessionStarted() {
	c.sessionsStarted.Inc()
	c.sessionsActive.Inc()
}

// SessionEnded counts a session leaving the store.
func (c *Collector) SessionEnded(reason domain.EndReason) {
	c.sessionsEnded.WithLabelValues(string(reason)).Inc()
	c.sessionsActive.Dec()
}

// LiveCallStarted tracks an open live call.
func (c *Collector) LiveCallStarted() { c.liveCallsActive.Inc() }

// LiveCallEnded tracks a closed live call.
func (c *Collector) LiveCallEnded() { c.liveCallsActive.Dec() }

// ConnectionStatus counts a speech-to-text connection transition.
func (c *Collector) ConnectionStatus(status domain.ConnectionStatus) {
	c.statusTransitions.WithLabelValues(string(status)).Inc()
	if status == domain.StatusFailed {
		c.logger.Warn("transcription connection failed")
	}
}

// ChunkRelayed counts a relayed reply chunk.
func (c *Collector) ChunkRelayed() { c.relayChunks.Inc() }

// TurnFinished counts a finished turn.
func (c *Collector) TurnFinished(outcome string) {
	c.relayTurns.WithLabelValues(outcome).Inc()
}

// UpstreamError counts a provider failure.
func (c *Collector) UpstreamError(phase domain.Phase) {
	c.upstreamErrors.WithLabelValues(string(phase)).Inc()
}
