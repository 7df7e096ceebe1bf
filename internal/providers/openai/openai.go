// Package openai provides the OpenAI adapter and the chat completions wire
// format it shares with Azure OpenAI.
package openai

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/llmclient"
	"llmbench/internal/providers"
)

// Key is the registry key of this adapter.
const Key = "openai"

const (
	defaultBaseURL = "https://api.openai.com/v1"

	envAPIKey  = "OPENAI_API_KEY"
	envOrgID   = "OPENAI_ORG_ID"
	envBaseURL = "OPENAI_BASE_URL"
)

var catalog = providers.NewCatalog(Key, "gpt-3.5-turbo",
	providers.Priced("gpt-4", 8192, 0.03, 0.06),
	providers.Priced("gpt-4-turbo-preview", 128000, 0.01, 0.03),
	providers.Priced("gpt-3.5-turbo", 4096, 0.0005, 0.0015),
)

func init() {
	providers.Register(Key, func(src config.Source, opts providers.BuildOptions) (core.Provider, error) {
		return New(src, opts)
	})
}

// Provider implements core.Provider for OpenAI
type Provider struct {
	client *llmclient.Client
	apiKey string
	orgID  string
}

// New creates an OpenAI adapter. OPENAI_API_KEY is required.
func New(src config.Source, opts providers.BuildOptions) (*Provider, error) {
	apiKey := src.Get(envAPIKey)
	if apiKey == "" {
		return nil, core.NewConfigurationError(Key, "", envAPIKey)
	}

	baseURL := src.Get(envBaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	p := &Provider{apiKey: apiKey, orgID: src.Get(envOrgID)}
	p.client = llmclient.NewWithHTTPClient(opts.HTTPClient, llmclient.Config{
		ProviderName: Key,
		BaseURL:      baseURL,
		Hooks:        opts.Hooks,
	}, p.setHeaders)
	return p, nil
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.orgID != "" {
		req.Header.Set("OpenAI-Organization", p.orgID)
	}

	// OpenAI rejects non-ASCII or over-long client request ids with a 400.
	if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
		req.Header.Set("X-Client-Request-Id", requestID)
	}
}

func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// Name returns the registry key.
func (p *Provider) Name() string { return Key }

// ListModels returns the static catalog.
func (p *Provider) ListModels(context.Context) ([]string, error) {
	return catalog.IDs(), nil
}

// GetModelInfo returns catalog metadata; gpt-3.5-turbo is the default.
func (p *Provider) GetModelInfo(_ context.Context, modelID string) (*core.ModelInfo, error) {
	return catalog.Lookup(modelID)
}

// ChatCompletion sends a non-streaming chat completion request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.CompletionResult, error) {
	info, err := catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	err = p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     NewChatBody(info.Name, req),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return core.NewCompletionResult(info.Name, resp.Text(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens), nil
}

// StreamChatCompletion opens a streamed completion. Usage comes from the
// final usage chunk; if the server omits it the counts are estimated.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	info, err := catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     NewChatBody(info.Name, req).WithStreamUsage(true),
	})
	if err != nil {
		return nil, err
	}

	return providers.StreamBody(ctx, Key, start, body, func(ctx context.Context, r io.Reader, w *core.StreamWriter) (core.Usage, error) {
		res, err := ReadChatStream(ctx, Key, r, w)
		if err != nil {
			return core.Usage{}, err
		}
		if res.HasUsage {
			return res.Usage, nil
		}
		slog.Debug("stream carried no usage, estimating", "provider", Key, "model", info.Name)
		return EstimateUsage(req.Messages, w.Text()), nil
	}), nil
}

// EstimateUsage approximates usage from the prompt messages and the reply.
func EstimateUsage(msgs []core.Message, reply string) core.Usage {
	prompt := providers.EstimateMessages(msgs)
	completion := providers.EstimateTokens(reply)
	return core.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// CountTokens estimates the token count from the word count.
func (p *Provider) CountTokens(_ context.Context, text string) (int, error) {
	return providers.EstimateTokens(text), nil
}

// ValidateConnection lists models with the configured key.
func (p *Provider) ValidateConnection(ctx context.Context) bool {
	_, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	})
	if err != nil {
		slog.Warn("connection validation failed", "provider", Key, "error", err)
		return false
	}
	return true
}
