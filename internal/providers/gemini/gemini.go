// Package gemini provides the Google Gemini adapter over the native
// generateContent API.
package gemini

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/llmclient"
	"llmbench/internal/providers"
)

// Key is the registry key of this adapter.
const Key = "google"

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	envAPIKey  = "GOOGLE_API_KEY"
	envBaseURL = "GOOGLE_BASE_URL"
)

var catalog = providers.NewCatalog(Key, "gemini-pro",
	providers.Priced("gemini-pro", 30720, 0.00025, 0.0005),
	providers.Priced("gemini-pro-vision", 12288, 0.00025, 0.0005),
)

func init() {
	providers.Register(Key, func(src config.Source, opts providers.BuildOptions) (core.Provider, error) {
		return New(src, opts)
	})
}

// Provider implements core.Provider for Google Gemini
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a Gemini adapter. GOOGLE_API_KEY is required.
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
	req.Header.Set("x-goog-api-key", p.apiKey)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// convertRequest maps roles onto Gemini's user/model pair and moves system
// messages into systemInstruction. Frequency and presence penalties are dropped.
func convertRequest(req *core.ChatRequest) *generateRequest {
	out := &generateRequest{Contents: make([]content, 0, len(req.Messages))}

	var system []part
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			system = append(system, part{Text: msg.Content})
		case core.RoleAssistant:
			out.Contents = append(out.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		case core.RoleUser:
			out.Contents = append(out.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: system}
	}

	params := req.Params
	if params.Temperature != nil || params.MaxTokens != nil || params.TopP != nil || params.TopK != nil || len(params.StopSequences) > 0 {
		out.GenerationConfig = &generationConfig{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.MaxTokens,
			TopP:            params.TopP,
			TopK:            params.TopK,
			StopSequences:   params.StopSequences,
		}
	}
	return out
}

func modelEndpoint(model, method string) string {
	return "/models/" + url.PathEscape(model) + ":" + method
}

// Name returns the registry key.
func (p *Provider) Name() string { return Key }

// ListModels returns the static catalog.
func (p *Provider) ListModels(context.Context) ([]string, error) {
	return catalog.IDs(), nil
}

// GetModelInfo returns catalog metadata; gemini-pro is the default.
func (p *Provider) GetModelInfo(_ context.Context, modelID string) (*core.ModelInfo, error) {
	return catalog.Lookup(modelID)
}

// ChatCompletion calls generateContent.
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.CompletionResult, error) {
	info, err := catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	err = p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: modelEndpoint(info.Name, "generateContent"),
		Body:     convertRequest(req),
	}, &resp)
	if err != nil {
		return nil, err
	}

	text := resp.text()
	if resp.UsageMetadata == nil {
		return core.NewCompletionResult(info.Name, text, providers.EstimateMessages(req.Messages), providers.EstimateTokens(text)), nil
	}
	return core.NewCompletionResult(info.Name, text, resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount), nil
}

// StreamChatCompletion calls streamGenerateContent with SSE framing. Every
// chunk repeats cumulative usageMetadata; the last one wins.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	info, err := catalog.Lookup(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := p.client.DoStream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: modelEndpoint(info.Name, "streamGenerateContent"),
		Query:    url.Values{"alt": []string{"sse"}},
		Body:     convertRequest(req),
	})
	if err != nil {
		return nil, err
	}

	msgs := req.Messages
	return providers.StreamBody(ctx, Key, start, body, func(ctx context.Context, r io.Reader, w *core.StreamWriter) (core.Usage, error) {
		var usage core.Usage
		hasUsage := false

		err := llmclient.ReadSSE(r, func(_, data string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !gjson.Valid(data) {
				return core.NewTransportError(Key, 0, "malformed stream chunk: "+data, nil)
			}
			chunk := gjson.Parse(data)
			if msg := chunk.Get("error.message"); msg.Exists() {
				return core.NewTransportError(Key, 0, msg.String(), nil)
			}
			for _, t := range chunk.Get("candidates.0.content.parts.#.text").Array() {
				if err := w.Delta(t.String()); err != nil {
					return err
				}
			}
			if meta := chunk.Get("usageMetadata"); meta.IsObject() {
				hasUsage = true
				usage.PromptTokens = int(meta.Get("promptTokenCount").Int())
				usage.CompletionTokens = int(meta.Get("candidatesTokenCount").Int())
			}
			return nil
		})
		if err != nil {
			return core.Usage{}, err
		}
		if !hasUsage {
			usage.PromptTokens = providers.EstimateMessages(msgs)
			usage.CompletionTokens = providers.EstimateTokens(w.Text())
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		return usage, nil
	}), nil
}

// CountTokens calls countTokens against the default model.
func (p *Provider) CountTokens(ctx context.Context, text string) (int, error) {
	var resp struct {
		TotalTokens int `json:"totalTokens"`
	}
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: modelEndpoint(catalog.Default(), "countTokens"),
		Body: map[string]interface{}{
			"contents": []content{{Role: "user", Parts: []part{{Text: text}}}},
		},
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.TotalTokens, nil
}

// ValidateConnection lists models with the configured key.
func (p *Provider) ValidateConnection(ctx context.Context) bool {
	_, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
		Query:    url.Values{"pageSize": []string{"1"}},
	})
	if err != nil {
		slog.Warn("connection validation failed", "provider", Key, "error", err)
		return false
	}
	return true
}
