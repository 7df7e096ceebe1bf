package azure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/providers"
)

// countingTransport counts round trips and fails them all.
type countingTransport struct {
	calls int32
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&c.calls, 1)
	return nil, errors.New("stub transport: no network")
}

func TestNew_MissingAPIKeyMakesNoNetworkCall(t *testing.T) {
	transport := &countingTransport{}
	src := config.NewMemoryStore(config.Credentials{Default: map[string]string{
		envEndpoint:   "https://example.openai.azure.com",
		envDeployment: "gpt-35-turbo",
	}})

	_, err := New(src, providers.BuildOptions{HTTPClient: &http.Client{Transport: transport}})

	var coreErr *core.Error
	require.True(t, errors.As(err, &coreErr), "got %v", err)
	assert.Equal(t, core.ErrorTypeConfiguration, coreErr.Type)
	assert.Equal(t, []string{envAPIKey}, coreErr.Missing)
	assert.Contains(t, coreErr.Error(), envAPIKey)
	assert.EqualValues(t, 0, atomic.LoadInt32(&transport.calls))
}

func TestNew_ThroughRegistry(t *testing.T) {
	transport := &countingTransport{}
	r := providers.NewDefaultRegistry(config.NewMemoryStore(config.Credentials{}), providers.BuildOptions{
		HTTPClient: &http.Client{Transport: transport},
	})

	_, err := r.Resolve(Key)
	require.ErrorIs(t, err, core.ErrConfiguration)

	var coreErr *core.Error
	require.True(t, errors.As(err, &coreErr))
	assert.ElementsMatch(t, []string{envAPIKey, envEndpoint, envDeployment}, coreErr.Missing)
	assert.EqualValues(t, 0, atomic.LoadInt32(&transport.calls))
}

func TestNew_GroupErrorNamesGroup(t *testing.T) {
	src := config.NewMemoryStore(config.Credentials{Groups: []config.Group{
		{Name: "eastus", Values: map[string]string{envAPIKey: "k", envEndpoint: "https://e", envDeployment: "gpt-4"}},
		{Name: "westeurope", Values: map[string]string{envEndpoint: "https://w", envDeployment: "gpt-4"}},
	}})

	_, err := New(src, providers.BuildOptions{})
	var coreErr *core.Error
	require.True(t, errors.As(err, &coreErr))
	assert.Contains(t, coreErr.Message, `"westeurope"`)
	assert.Equal(t, []string{envAPIKey}, coreErr.Missing)
}

func TestNew_InvalidUsageFallback(t *testing.T) {
	src := config.NewMemoryStore(config.Credentials{Default: map[string]string{
		envAPIKey: "k", envEndpoint: "https://e", envDeployment: "d", envUsageFallback: "sometimes",
	}})
	_, err := New(src, providers.BuildOptions{})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestModels_MultiGroup(t *testing.T) {
	src := config.NewMemoryStore(config.Credentials{
		Default: map[string]string{"OPENAI_API_KEY": "unrelated"},
		Groups: []config.Group{
			{Name: "eastus", Values: map[string]string{envAPIKey: "k1", envEndpoint: "https://e", envDeployment: "gpt-4"}},
			{Name: "westeurope", Values: map[string]string{envAPIKey: "k2", envEndpoint: "https://w", envDeployment: "gpt-35-turbo"}},
			{Name: "notes", Values: map[string]string{"SOMETHING": "else"}},
		},
	})
	p, err := New(src, providers.BuildOptions{})
	require.NoError(t, err)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"eastus:gpt-4", "westeurope:gpt-35-turbo"}, models)

	def, err := p.GetModelInfo(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "eastus:gpt-4", def.Name)
	assert.Equal(t, 8192, def.MaxContextTokens)
	assert.Equal(t, 0.03, def.Pricing.InputPer1K)

	west, err := p.GetModelInfo(context.Background(), "westeurope:gpt-35-turbo")
	require.NoError(t, err)
	assert.Equal(t, 0.0005, west.Pricing.InputPer1K)

	for _, id := range []string{"westeurope:gpt-4", "centralus:gpt-4", "gpt-4"} {
		_, err := p.GetModelInfo(context.Background(), id)
		assert.ErrorIs(t, err, core.ErrUnknownModel, id)
		_, err = p.ChatCompletion(context.Background(), &core.ChatRequest{Model: id})
		assert.ErrorIs(t, err, core.ErrUnknownModel, id)
	}
}

type fakeAzure struct {
	mu             sync.Mutex
	streamCalls    int
	completeCalls  int
	includeUsage   bool
	streamUsage    bool
	lastAPIVersion string
}

func (f *fakeAzure) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "k" {
			t.Errorf("api-key = %q", r.Header.Get("api-key"))
		}
		if r.URL.Path != "/openai/deployments/gpt-35-turbo/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAPIVersion = r.URL.Query().Get("api-version")

		if strings.Contains(string(body), `"stream":true`) {
			f.streamCalls++
			f.includeUsage = strings.Contains(string(body), `"include_usage":true`)
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"4\"}}]}\n\n")
			if f.streamUsage && f.includeUsage {
				_, _ = io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":7,\"completion_tokens\":1,\"total_tokens\":8}}\n\n")
			}
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		f.completeCalls++
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"4"}}],"usage":{"prompt_tokens":12,"completion_tokens":1,"total_tokens":13}}`)
	}
}

func newFakeProvider(t *testing.T, fake *fakeAzure, policy string) *Provider {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	p, err := New(config.NewMemoryStore(config.Credentials{Default: map[string]string{
		envAPIKey:     "k",
		envEndpoint:   server.URL + "/",
		envDeployment: "gpt-35-turbo",
	}}), providers.BuildOptions{HTTPClient: server.Client(), AzureUsageFallback: policy})
	require.NoError(t, err)
	return p
}

func TestStreamChatCompletion_UsageFallback(t *testing.T) {
	tests := []struct {
		name          string
		policy        string
		streamUsage   bool
		wantCompletes int
		wantPrompt    int
		wantInclude   bool
	}{
		{"auto with stream usage", "auto", true, 0, 7, true},
		{"auto without stream usage", "auto", false, 1, 12, true},
		{"always", "always", true, 1, 12, false},
		{"never with stream usage", "never", true, 0, 7, true},
		{"never estimates", "never", false, 0, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAzure{streamUsage: tt.streamUsage}
			p := newFakeProvider(t, fake, tt.policy)

			s, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{
				Messages: []core.Message{{Role: core.RoleUser, Content: "2+2? quickly"}},
			})
			require.NoError(t, err)

			stats, err := core.Collect(s)
			require.NoError(t, err)
			assert.Equal(t, "4", stats.Content)
			assert.Equal(t, tt.wantPrompt, stats.PromptTokens)
			assert.Equal(t, stats.PromptTokens+stats.CompletionTokens, stats.TotalTokens)

			fake.mu.Lock()
			defer fake.mu.Unlock()
			assert.Equal(t, 1, fake.streamCalls)
			assert.Equal(t, tt.wantCompletes, fake.completeCalls)
			assert.Equal(t, tt.wantInclude, fake.includeUsage)
			assert.Equal(t, defaultAPIVersion, fake.lastAPIVersion)
		})
	}
}

func TestValidateConnection(t *testing.T) {
	fake := &fakeAzure{}
	p := newFakeProvider(t, fake, "")
	assert.True(t, p.ValidateConnection(context.Background()))
	assert.Equal(t, 1, fake.completeCalls)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer failing.Close()
	bad, err := New(config.NewMemoryStore(config.Credentials{Default: map[string]string{
		envAPIKey: "wrong", envEndpoint: failing.URL, envDeployment: "gpt-4",
	}}), providers.BuildOptions{HTTPClient: failing.Client()})
	require.NoError(t, err)
	assert.False(t, bad.ValidateConnection(context.Background()))
}
