// Package metrics registers and records Prometheus metrics for the call service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Signaling metrics
	signalingFramesTotal  *prometheus.CounterVec
	signalingDroppedTotal *prometheus.CounterVec

	// Call metrics
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callsDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of live WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages by direction",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),

		signalingFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_frames_total",
				Help:        "Total number of relayed signaling frames by type",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		signalingDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_dropped_total",
				Help:        "Total number of signaling frames rejected or undeliverable",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls initiated",
				ConstLabels: labels,
			},
			[]string{"call_type", "call_mode"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of calls currently ringing or active",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Duration of completed calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"call_mode"},
		),
	}
}

// GetRegistry returns the registry backing this metrics set
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// WebSocketConnected records a new live connection
func (m *Metrics) WebSocketConnected() {
	m.websocketConnections.Inc()
}

// WebSocketDisconnected records a closed connection
func (m *Metrics) WebSocketDisconnected() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records a message in the given direction ("in"/"out")
func (m *Metrics) RecordWebSocketMessage(direction string) {
	m.websocketMessagesTotal.WithLabelValues(direction).Inc()
}

// RecordWebSocketError records a WebSocket error by kind
func (m *Metrics) RecordWebSocketError(kind string) {
	m.websocketErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordSignalingFrame records one relayed frame of the given type
func (m *Metrics) RecordSignalingFrame(frameType string) {
	m.signalingFramesTotal.WithLabelValues(frameType).Inc()
}

// RecordSignalingDrop records a rejected or undeliverable frame
func (m *Metrics) RecordSignalingDrop(reason string) {
	m.signalingDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordCallStarted records a newly initiated call
func (m *Metrics) RecordCallStarted(callType, callMode string) {
	m.callsTotal.WithLabelValues(callType, callMode).Inc()
	m.callsActive.Inc()
}

// RecordCallEnded records a call reaching a terminal state
func (m *Metrics) RecordCallEnded(callMode string, duration time.Duration) {
	m.callsActive.Dec()
	if duration > 0 {
		m.callsDuration.WithLabelValues(callMode).Observe(duration.Seconds())
	}
}
