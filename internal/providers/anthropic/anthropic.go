// Package anthropic provides the Anthropic Messages API adapter.
package anthropic

import (
	"context"
	"encoding/json"
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
const Key = "anthropic"

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 1024

	envAPIKey  = "ANTHROPIC_API_KEY"
	envBaseURL = "ANTHROPIC_BASE_URL"

	validationModel = "claude-3-haiku"
)

var catalog = providers.NewCatalog(Key, "claude-3-sonnet",
	providers.Priced("claude-3-opus", 200000, 0.015, 0.075),
	providers.Priced("claude-3-sonnet", 200000, 0.003, 0.015),
	providers.Priced("claude-3-haiku", 200000, 0.00025, 0.00125),
)

// vendorModels maps catalog ids to dated API model ids.
var vendorModels = map[string]string{
	"claude-3-opus":   "claude-3-opus-20240229",
	"claude-3-sonnet": "claude-3-sonnet-20240229",
	"claude-3-haiku":  "claude-3-haiku-20240307",
}

func init() {
	providers.Register(Key, func(src config.Source, opts providers.BuildOptions) (core.Provider, error) {
		return New(src, opts)
	})
}

// Provider implements core.Provider for Anthropic
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates an Anthropic adapter. ANTHROPIC_API_KEY is required.
func New(src config.Source, opts providers.BuildOptions) (*Provider, error) {
	apiKey := src.Get(envAPIKey)
	if apiKey == "" {
		return nil, core.NewConfigurationError(Key, "", envAPIKey)
	}
	baseURL := src.Get(envBaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	p := &Provider{apiKey: apiKey}
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

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// anthropicRequest represents the Anthropic API request format
type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// anthropicMessage represents a message in Anthropic format
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse represents the Anthropic API response format
type anthropicResponse struct {
	ID      string             `json:"id"`
	Content []anthropicContent `json:"content"`
	Model   string             `json:"model"`
	Usage   anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicStreamEvent represents a streaming event from Anthropic
type anthropicStreamEvent struct {
	Type    string             `json:"type"`
	Delta   *anthropicDelta    `json:"delta,omitempty"`
	Message *anthropicResponse `json:"message,omitempty"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// convertRequest maps a chat request onto the Messages API. System messages
// become the system prompt; frequency and presence penalties are dropped.
func convertRequest(model string, req *core.ChatRequest) *anthropicRequest {
	out := &anthropicRequest{
		Model:         vendorModels[model],
		Messages:      make([]anthropicMessage, 0, len(req.Messages)),
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		TopK:          req.Params.TopK,
		StopSequences: req.Params.StopSequences,
	}
	if req.Params.MaxTokens != nil {
		out.MaxTokens = *req.Params.MaxTokens
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += msg.Content
		case core.RoleUser, core.RoleAssistant:
			out.Messages = append(out.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return out
}

// Name returns the registry key.
func (p *Provider) Name() string { return Key }

// ListModels returns the static catalog.
func (p *Provider) ListModels(context.Context) ([]string, error) {
	return catalog.IDs(), nil
}

// GetModelInfo returns catalog metadata; claude-3-sonnet is the default.
func (p *Provider) GetModelInfo(_ context.Context, modelID string) (*core.ModelInfo, error) {
	return catalog.Lookup(modelID)
}

// ChatCompletion sends a non-streaming Messages request
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.CompletionResult, error) {
	info, err := catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	err = p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     convertRequest(info.Name, req),
	}, &resp)
	if err != nil {
		return nil, err
	}

	text := ""
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return core.NewCompletionResult(info.Name, text, resp.Usage.InputTokens, resp.Usage.OutputTokens), nil
}

// StreamChatCompletion opens a streamed Messages request. Input tokens come
// from message_start, output tokens from the last message_delta.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	info, err := catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}
	body := convertRequest(info.Name, req)
	body.Stream = true

	start := time.Now()
	stream, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}
	return providers.StreamBody(ctx, Key, start, stream, readStream), nil
}

func readStream(ctx context.Context, r io.Reader, w *core.StreamWriter) (core.Usage, error) {
	var usage core.Usage
	stopped := false

	err := llmclient.ReadSSE(r, func(_, data string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return core.NewTransportError(Key, 0, "malformed stream event: "+err.Error(), err)
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
				usage.CompletionTokens = event.Message.Usage.OutputTokens
			}
		case "content_block_delta":
			if event.Delta != nil {
				return w.Delta(event.Delta.Text)
			}
		case "message_delta":
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			stopped = true
			return llmclient.ErrStopStream
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return core.NewTransportError(Key, 0, msg, nil)
		}
		return nil
	})
	if err != nil {
		return core.Usage{}, err
	}
	if !stopped {
		return core.Usage{}, core.NewTransportError(Key, 0, "stream ended before message_stop", nil)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage, nil
}

// CountTokens uses the count_tokens endpoint against the default model.
func (p *Provider) CountTokens(ctx context.Context, text string) (int, error) {
	var resp struct {
		InputTokens int `json:"input_tokens"`
	}
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages/count_tokens",
		Body: map[string]interface{}{
			"model":    vendorModels[catalog.Default()],
			"messages": []anthropicMessage{{Role: core.RoleUser, Content: text}},
		},
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.InputTokens, nil
}

// ValidateConnection sends a one-token request to the cheapest model.
func (p *Provider) ValidateConnection(ctx context.Context) bool {
	_, err := p.ChatCompletion(ctx, &core.ChatRequest{
		Model:    validationModel,
		Messages: []core.Message{{Role: core.RoleUser, Content: "test"}},
		Params:   core.Params{MaxTokens: core.IntPtr(1)},
	})
	if err != nil {
		slog.Warn("connection validation failed", "provider", Key, "error", err)
		return false
	}
	return true
}
