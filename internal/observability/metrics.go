// Package observability exposes Prometheus metrics for vendor requests and
// session turns.
package observability

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"llmbench/internal/core"
	"llmbench/internal/llmclient"
	"llmbench/internal/usage"
)

// Metrics holds every collector. Create one per registerer.
type Metrics struct {
	// RequestsTotal counts vendor requests by outcome.
	RequestsTotal *prometheus.CounterVec
	// RequestDuration tracks time to the vendor's response headers.
	RequestDuration *prometheus.HistogramVec
	// RequestsInFlight tracks vendor requests awaiting a response.
	RequestsInFlight *prometheus.GaugeVec

	// TurnsTotal counts finished session turns by outcome.
	TurnsTotal *prometheus.CounterVec
	// TurnResponseTime tracks the response time of successful turns.
	TurnResponseTime *prometheus.HistogramVec
	// TokensTotal counts tokens of successful turns; direction is input or output.
	TokensTotal *prometheus.CounterVec
	// CostTotal sums the estimated USD cost of successful turns.
	CostTotal *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_provider_requests_total",
				Help: "Total number of vendor API requests.",
			},
			[]string{"provider", "endpoint", "stream", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmbench_provider_request_duration_seconds",
				Help:    "Time until the vendor answered with response headers.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "endpoint", "stream"},
		),
		RequestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llmbench_provider_requests_in_flight",
				Help: "Number of vendor requests awaiting a response.",
			},
			[]string{"provider"},
		),
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_turns_total",
				Help: "Total number of session turns by outcome.",
			},
			[]string{"provider", "model", "outcome"},
		),
		TurnResponseTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmbench_turn_response_seconds",
				Help:    "Response time of successful turns, up to the last delta.",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_tokens_total",
				Help: "Tokens consumed by successful turns.",
			},
			[]string{"provider", "model", "direction"},
		),
		CostTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmbench_cost_usd_total",
				Help: "Estimated USD cost of successful turns.",
			},
			[]string{"provider", "model"},
		),
	}
}

// Hooks returns llmclient hooks feeding the request collectors.
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestStart: func(ctx context.Context, info llmclient.RequestInfo) context.Context {
			m.RequestsInFlight.WithLabelValues(info.Provider).Inc()
			return ctx
		},
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			m.RequestsInFlight.WithLabelValues(info.Provider).Dec()
			stream := strconv.FormatBool(info.Stream)
			m.RequestsTotal.WithLabelValues(info.Provider, info.Endpoint, stream, requestStatus(info)).Inc()
			m.RequestDuration.WithLabelValues(info.Provider, info.Endpoint, stream).Observe(info.Duration.Seconds())
		},
	}
}

func requestStatus(info llmclient.ResponseInfo) string {
	if info.StatusCode > 0 {
		return strconv.Itoa(info.StatusCode)
	}
	if info.Err != nil {
		return "error"
	}
	return "unknown"
}

// ObserveTurn records a finished session turn.
func (m *Metrics) ObserveTurn(provider, model string, rec *usage.PerformanceRecord, err error) {
	provider, model = turnLabels(provider, model, rec, err)
	m.TurnsTotal.WithLabelValues(provider, model, turnOutcome(err)).Inc()
	if err != nil || rec == nil {
		return
	}
	m.TurnResponseTime.WithLabelValues(provider, model).Observe(rec.ResponseTime)
	m.TokensTotal.WithLabelValues(provider, model, "input").Add(float64(rec.PromptTokens))
	m.TokensTotal.WithLabelValues(provider, model, "output").Add(float64(rec.CompletionTokens))
	m.CostTotal.WithLabelValues(provider, model).Add(rec.Cost)
}

// turnLabels keeps label values to registered providers and catalog models.
// Names the turn failed to resolve are reported as "unknown".
func turnLabels(provider, model string, rec *usage.PerformanceRecord, err error) (string, string) {
	if rec != nil {
		return rec.Provider, rec.Model
	}
	switch {
	case errors.Is(err, core.ErrUnknownProvider), errors.Is(err, core.ErrTurnInProgress):
		return "unknown", "unknown"
	case errors.Is(err, core.ErrUnknownModel), errors.Is(err, core.ErrConfiguration):
		model = "unknown"
	}
	if model == "" {
		model = "default"
	}
	return provider, model
}

func turnOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return string(coreErr.Type)
	}
	return "other"
}
