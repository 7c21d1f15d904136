package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one engine instance. Every
// recording method is safe on a nil receiver so components can run without
// metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	busDeliveries      *prometheus.CounterVec
	busDeliveryLatency *prometheus.HistogramVec
	busPending         prometheus.Gauge
	busInstances       prometheus.Gauge

	sessionsActive prometheus.Gauge
	sessionsOpened prometheus.Counter

	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec

	loopSteps *prometheus.CounterVec
	loopRuns  *prometheus.CounterVec

	reasoningCalls    *prometheus.CounterVec
	reasoningDuration *prometheus.HistogramVec

	gatewayRequests *prometheus.CounterVec
	gatewayStreams  prometheus.Gauge
}

// NewMetrics creates collectors on a private registry, including the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		busDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "bus_deliveries_total",
			Help:      "Bus deliveries by target agent type, mode and outcome.",
		}, []string{"agent_type", "mode", "status"}),
		busDeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepwise",
			Name:      "bus_delivery_duration_seconds",
			Help:      "Handler run time per delivery, queueing excluded.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_type"}),
		busPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepwise",
			Name:      "bus_pending_deliveries",
			Help:      "Deliveries enqueued or running.",
		}),
		busInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepwise",
			Name:      "bus_agent_instances",
			Help:      "Materialized agent instances.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepwise",
			Name:      "sessions_active",
			Help:      "Open sessions.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "sessions_opened_total",
			Help:      "Sessions opened since start.",
		}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepwise",
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution time by tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		loopSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "loop_steps_total",
			Help:      "Orchestrator steps by outcome.",
		}, []string{"outcome"}),
		loopRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "loop_runs_total",
			Help:      "Completed orchestrator runs by conclusion.",
		}, []string{"conclusion"}),
		reasoningCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "reasoning_calls_total",
			Help:      "Reasoning service calls by agent and outcome.",
		}, []string{"agent", "status"}),
		reasoningDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepwise",
			Name:      "reasoning_call_duration_seconds",
			Help:      "Reasoning service latency by agent.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"agent"}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "gateway_requests_total",
			Help:      "Gateway HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		gatewayStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepwise",
			Name:      "gateway_streams_active",
			Help:      "Event streams attached through the gateway.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.busDeliveries,
		m.busDeliveryLatency,
		m.busPending,
		m.busInstances,
		m.sessionsActive,
		m.sessionsOpened,
		m.toolExecutions,
		m.toolDuration,
		m.loopSteps,
		m.loopRuns,
		m.reasoningCalls,
		m.reasoningDuration,
		m.gatewayRequests,
		m.gatewayStreams,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordDelivery counts a finished bus delivery. mode is send, post or
// broadcast; status is success, error or dropped.
func (m *Metrics) RecordDelivery(agentType, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.busDeliveries.WithLabelValues(agentType, mode, status).Inc()
	if status != "dropped" {
		m.busDeliveryLatency.WithLabelValues(agentType).Observe(d.Seconds())
	}
}

func (m *Metrics) SetPendingDeliveries(n int) {
	if m == nil {
		return
	}
	m.busPending.Set(float64(n))
}

func (m *Metrics) SetAgentInstances(n int) {
	if m == nil {
		return
	}
	m.busInstances.Set(float64(n))
}

func (m *Metrics) RecordSessionOpened(active int) {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.sessionsActive.Set(float64(active))
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) RecordToolExecution(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(tool, statusLabel(err)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordStep counts one loop step. outcome is success, tool_error,
// invalid_tool or malformed_argument.
func (m *Metrics) RecordStep(outcome string) {
	if m == nil {
		return
	}
	m.loopSteps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRun(conclusion bool) {
	if m == nil {
		return
	}
	label := "exhausted"
	if conclusion {
		label = "concluded"
	}
	m.loopRuns.WithLabelValues(label).Inc()
}

func (m *Metrics) RecordReasoningCall(agent string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.reasoningCalls.WithLabelValues(agent, statusLabel(err)).Inc()
	m.reasoningDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (m *Metrics) RecordGatewayRequest(route string, code int) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// AddGatewayStreams moves the attached stream gauge by delta.
func (m *Metrics) AddGatewayStreams(delta int) {
	if m == nil {
		return
	}
	m.gatewayStreams.Add(float64(delta))
}
