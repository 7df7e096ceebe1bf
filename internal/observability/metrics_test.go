package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"llmbench/internal/core"
	"llmbench/internal/llmclient"
	"llmbench/internal/usage"
)

func TestHooks(t *testing.T) {
	m := New(prometheus.NewRegistry())
	hooks := m.Hooks()

	ctx := hooks.OnRequestStart(context.Background(), llmclient.RequestInfo{Provider: "openai", Endpoint: "/chat/completions"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsInFlight.WithLabelValues("openai")))

	hooks.OnRequestEnd(ctx, llmclient.ResponseInfo{
		Provider:   "openai",
		Endpoint:   "/chat/completions",
		StatusCode: http.StatusTooManyRequests,
		Duration:   200 * time.Millisecond,
	})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestsInFlight.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("openai", "/chat/completions", "false", "429")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestObserveTurn(t *testing.T) {
	m := New(prometheus.NewRegistry())

	rec := &usage.PerformanceRecord{Provider: "stub", Model: "stub-model", ResponseTime: 0.5, PromptTokens: 5, CompletionTokens: 1, Cost: 0.00007}
	m.ObserveTurn("stub", "", rec, nil)
	m.ObserveTurn("stub", "", nil, core.NewEmptyResponseError("stub"))
	m.ObserveTurn("stub", "", nil, context.Canceled)
	m.ObserveTurn("stub", "", nil, errors.New("session cleared during turn"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stub", "stub-model", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stub", "default", "empty_response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stub", "default", "canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stub", "default", "other")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("stub", "stub-model", "input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("stub", "stub-model", "output")))
	assert.InDelta(t, 0.00007, testutil.ToFloat64(m.CostTotal.WithLabelValues("stub", "stub-model")), 1e-12)
}

func TestObserveTurn_BoundsLabels(t *testing.T) {
	m := New(prometheus.NewRegistry())

	for i := 0; i < 50; i++ {
		provider := fmt.Sprintf("junk-%d", i)
		m.ObserveTurn(provider, "", nil, core.NewUnknownProviderError(provider))
		model := fmt.Sprintf("gpt-junk-%d", i)
		m.ObserveTurn("stub", model, nil, core.NewUnknownModelError("stub", model))
		m.ObserveTurn(provider, model, nil, core.NewTurnInProgressError())
		m.ObserveTurn("stub", model, nil, core.NewConfigurationError("stub", "", "STUB_API_KEY"))
	}

	assert.Equal(t, 4, testutil.CollectAndCount(m.TurnsTotal))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("unknown", "unknown", "unknown_provider")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("unknown", "unknown", "turn_in_progress")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stub", "unknown", "unknown_model")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stub", "unknown", "configuration_error")))
}
