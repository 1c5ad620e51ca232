// Package metrics exposes prometheus collectors fed by the proxy, the
// interception queue and the console.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/intercept"
)

const namespace = "interceptproxy"

type Metrics struct {
	registry *prometheus.Registry

	responses *prometheus.CounterVec
	queued    *prometheus.CounterVec
	resolved  *prometheus.CounterVec
	pending   prometheus.Gauge
	commands  *prometheus.CounterVec
	took      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses sent back to proxy clients, by status code.",
		}, []string{"code"}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intercepted_total",
			Help:      "Exchanges suspended for the operator.",
		}, []string{"direction"}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolved_total",
			Help:      "Intercepted exchanges by final state.",
		}, []string{"direction", "state"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending",
			Help:      "Exchanges currently waiting for the operator.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Console commands executed.",
		}, []string{"command", "result"}),
		took: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Console command latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"command"}),
	}
	m.registry.MustRegister(m.responses, m.queued, m.resolved, m.pending, m.commands, m.took)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Install counts the responses proxy sends. It should be registered after
// every handler that may replace a response.
func (m *Metrics) Install(proxy *goproxy.ProxyHttpServer) {
	proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		code := "error"
		if resp != nil {
			code = strconv.Itoa(resp.StatusCode)
		}
		m.responses.WithLabelValues(code).Inc()
		return resp
	})
}

func (m *Metrics) ExchangeQueued(x intercept.Exchange) {
	m.queued.WithLabelValues(x.Direction.String()).Inc()
	m.pending.Inc()
}

func (m *Metrics) ExchangeResolved(x intercept.Exchange, state intercept.State, err error) {
	m.resolved.WithLabelValues(x.Direction.String(), state.String()).Inc()
	m.pending.Dec()
}

// CommandExecuted is called with the canonical name, aliases are not labels.
func (m *Metrics) CommandExecuted(name string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(name, result).Inc()
	m.took.WithLabelValues(name).Observe(took.Seconds())
}
