package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the bridge. All methods are
// safe on a nil receiver so components can run without metrics.
type Metrics struct {
	// HTTPRequestCounter counts webhook requests.
	// Labels: method, route, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures webhook latency in seconds.
	// Labels: method, route
	HTTPRequestDuration *prometheus.HistogramVec

	// ChatRequestCounter counts chat server calls.
	// Labels: op, outcome (ok|failed|error)
	ChatRequestCounter *prometheus.CounterVec

	// RuntimeRequestCounter counts agent runtime calls.
	// Labels: op, outcome
	RuntimeRequestCounter *prometheus.CounterVec

	// SchedulerRequestCounter counts task scheduler calls.
	// Labels: op, outcome
	SchedulerRequestCounter *prometheus.CounterVec

	// RelayEventCounter counts turn events by kind.
	// Labels: kind (text|tool_call|tool_response|malformed|unrecognized)
	RelayEventCounter *prometheus.CounterVec

	// RelayTurnCounter counts relayed turns.
	// Labels: outcome (ok|stream_broken|aborted)
	RelayTurnCounter *prometheus.CounterVec

	// RelayTurnDuration measures turn latency in seconds.
	RelayTurnDuration prometheus.Histogram

	// ToolInvocationCounter counts tool gateway calls.
	// Labels: tool, outcome (success|error|failed)
	ToolInvocationCounter *prometheus.CounterVec

	// ToolInvocationDuration measures tool gateway latency in seconds.
	// Labels: tool
	ToolInvocationDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hapra_http_requests_total",
				Help: "Total number of webhook requests by method, route, and status code",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hapra_http_request_duration_seconds",
				Help:    "Duration of webhook requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"method", "route"},
		),
		ChatRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hapra_chat_requests_total",
				Help: "Total number of chat server requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		RuntimeRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hapra_runtime_requests_total",
				Help: "Total number of agent runtime requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		SchedulerRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hapra_scheduler_requests_total",
				Help: "Total number of task scheduler requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		RelayEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hapra_relay_events_total",
				Help: "Total number of agent turn events relayed by kind",
			},
			[]string{"kind"},
		),
		RelayTurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hapra_relay_turns_total",
				Help: "Total number of relayed turns by outcome",
			},
			[]string{"outcome"},
		),
		RelayTurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hapra_relay_turn_duration_seconds",
				Help:    "Duration of relayed agent turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		ToolInvocationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hapra_tool_invocations_total",
				Help: "Total number of tool gateway invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolInvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hapra_tool_invocation_duration_seconds",
				Help:    "Duration of tool gateway invocations in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
	}
}

// HTTPRequest records a completed webhook request.
func (m *Metrics) HTTPRequest(method, route, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, route, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// ChatRequest records a chat server call.
func (m *Metrics) ChatRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.ChatRequestCounter.WithLabelValues(op, outcome).Inc()
}

// RuntimeRequest records an agent runtime call.
func (m *Metrics) RuntimeRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.RuntimeRequestCounter.WithLabelValues(op, outcome).Inc()
}

// SchedulerRequest records a task scheduler call.
func (m *Metrics) SchedulerRequest(op, outcome string) {
	if m == nil {
		return
	}
	m.SchedulerRequestCounter.WithLabelValues(op, outcome).Inc()
}

// RelayEvent records one turn event.
func (m *Metrics) RelayEvent(kind string) {
	if m == nil {
		return
	}
	m.RelayEventCounter.WithLabelValues(kind).Inc()
}

// RelayTurn records a finished turn.
func (m *Metrics) RelayTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RelayTurnCounter.WithLabelValues(outcome).Inc()
	m.RelayTurnDuration.Observe(seconds)
}

// ToolInvocation records a tool gateway call.
func (m *Metrics) ToolInvocation(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolInvocationCounter.WithLabelValues(tool, outcome).Inc()
	m.ToolInvocationDuration.WithLabelValues(tool).Observe(seconds)
}
