// Package azure provides the Azure OpenAI adapter. Several credential groups
// may be configured; each exposes its deployment as "group:deployment".
package azure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/llmclient"
	"llmbench/internal/providers"
	"llmbench/internal/providers/openai"
)

// Key is the registry key of this adapter.
const Key = "azure-openai"

const (
	envAPIKey        = "AZURE_OPENAI_API_KEY"
	envEndpoint      = "AZURE_OPENAI_ENDPOINT"
	envDeployment    = "AZURE_DEPLOYMENT_NAME"
	envAPIVersion    = "AZURE_OPENAI_API_VERSION"
	envUsageFallback = "AZURE_USAGE_FALLBACK"

	defaultAPIVersion = "2024-02-15-preview"

	// DefaultGroup names the ungrouped credentials.
	DefaultGroup = "default"
)

// UsageFallback decides how token usage is obtained for streamed responses.
type UsageFallback string

const (
	// UsageAuto asks for a usage chunk and issues a second, non-streaming
	// request only when the stream ends without one.
	UsageAuto UsageFallback = "auto"
	// UsageAlways always issues the second request, doubling cost and latency.
	UsageAlways UsageFallback = "always"
	// UsageNever uses the usage chunk if present and estimates otherwise.
	UsageNever UsageFallback = "never"
)

func parseUsageFallback(s string) (UsageFallback, error) {
	switch UsageFallback(strings.ToLower(strings.TrimSpace(s))) {
	case "", UsageAuto:
		return UsageAuto, nil
	case UsageAlways:
		return UsageAlways, nil
	case UsageNever:
		return UsageNever, nil
	}
	return "", fmt.Errorf("invalid %s %q", envUsageFallback, s)
}

func init() {
	providers.Register(Key, func(src config.Source, opts providers.BuildOptions) (core.Provider, error) {
		return New(src, opts)
	})
}

type deployment struct {
	id         string
	group      string
	name       string
	apiVersion string
	fallback   UsageFallback
	client     *llmclient.Client
}

// Provider implements core.Provider for Azure OpenAI
type Provider struct {
	deployments map[string]*deployment
	catalog     providers.Catalog
}

// New reads every credential group. Groups are the named sections that carry
// any AZURE_* key; without any, the ungrouped values form the "default" group.
// All required fields of every group must be present.
func New(src config.Source, opts providers.BuildOptions) (*Provider, error) {
	type lookup func(key string) string

	var groups []string
	var getters []lookup
	for _, g := range src.Groups() {
		get := func(key string) string { return src.GroupGet(g, key) }
		if get(envAPIKey) != "" || get(envEndpoint) != "" || get(envDeployment) != "" {
			groups = append(groups, g)
			getters = append(getters, get)
		}
	}
	if len(groups) == 0 {
		groups = []string{DefaultGroup}
		getters = []lookup{src.Get}
	}

	p := &Provider{deployments: make(map[string]*deployment)}
	var models []core.ModelInfo
	for i, group := range groups {
		get := getters[i]
		reportGroup := group
		if len(groups) == 1 && group == DefaultGroup {
			reportGroup = ""
		}

		var missing []string
		for _, k := range []string{envAPIKey, envEndpoint, envDeployment} {
			if get(k) == "" {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return nil, core.NewConfigurationError(Key, reportGroup, missing...)
		}

		policy := get(envUsageFallback)
		if policy == "" {
			policy = opts.AzureUsageFallback
		}
		fallback, err := parseUsageFallback(policy)
		if err != nil {
			ce := core.NewConfigurationError(Key, reportGroup, envUsageFallback)
			ce.Message = err.Error()
			return nil, ce
		}

		apiVersion := get(envAPIVersion)
		if apiVersion == "" {
			apiVersion = defaultAPIVersion
		}

		d := &deployment{
			id:         group + ":" + get(envDeployment),
			group:      group,
			name:       get(envDeployment),
			apiVersion: apiVersion,
			fallback:   fallback,
		}
		apiKey := get(envAPIKey)
		d.client = llmclient.NewWithHTTPClient(opts.HTTPClient, llmclient.Config{
			ProviderName: Key,
			BaseURL:      strings.TrimRight(get(envEndpoint), "/") + "/openai/deployments/" + url.PathEscape(d.name),
			Hooks:        opts.Hooks,
		}, func(req *http.Request) {
			req.Header.Set("api-key", apiKey)
		})

		if _, dup := p.deployments[d.id]; dup {
			return nil, core.NewInvalidRequestError("duplicate azure deployment "+d.id, nil)
		}
		p.deployments[d.id] = d
		models = append(models, modelInfo(d.id, d.name))
	}

	p.catalog = providers.NewCatalog(Key, models[0].Name, models...)
	return p, nil
}

// modelInfo prices a deployment by the model family in its name.
func modelInfo(id, deploymentName string) core.ModelInfo {
	if strings.Contains(strings.ToLower(deploymentName), "gpt-4") {
		return providers.Priced(id, 8192, 0.03, 0.06)
	}
	return providers.Priced(id, 4096, 0.0005, 0.0015)
}

// Name returns the registry key.
func (p *Provider) Name() string { return Key }

// ListModels returns one "group:deployment" id per credential group.
func (p *Provider) ListModels(context.Context) ([]string, error) {
	return p.catalog.IDs(), nil
}

// GetModelInfo returns catalog metadata; the first group is the default.
func (p *Provider) GetModelInfo(_ context.Context, modelID string) (*core.ModelInfo, error) {
	return p.catalog.Lookup(modelID)
}

func (p *Provider) resolve(modelID string) (*deployment, error) {
	info, err := p.catalog.Lookup(modelID)
	if err != nil {
		return nil, err
	}
	return p.deployments[info.Name], nil
}

func (d *deployment) request(body *openai.ChatBody) llmclient.Request {
	return llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Query:    url.Values{"api-version": {d.apiVersion}},
		Body:     body,
	}
}

// ChatCompletion sends a non-streaming request to the deployment behind req.Model.
func (p *Provider) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.CompletionResult, error) {
	d, err := p.resolve(req.Model)
	if err != nil {
		return nil, err
	}
	resp, err := d.complete(ctx, openai.NewChatBody("", req))
	if err != nil {
		return nil, err
	}
	return core.NewCompletionResult(d.id, resp.Text(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens), nil
}

func (d *deployment) complete(ctx context.Context, body *openai.ChatBody) (*openai.ChatResponse, error) {
	var resp openai.ChatResponse
	if err := d.client.Do(ctx, d.request(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamChatCompletion streams from the deployment. Depending on the usage
// fallback policy a second, non-streaming request with identical parameters
// is made after the last delta to obtain token usage. That request is billed
// by Azure and is not included in the response time.
func (p *Provider) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	d, err := p.resolve(req.Model)
	if err != nil {
		return nil, err
	}

	body := openai.NewChatBody("", req)
	start := time.Now()
	stream, err := d.client.DoStream(ctx, d.request(body.WithStreamUsage(d.fallback != UsageAlways)))
	if err != nil {
		return nil, err
	}

	return providers.StreamBody(ctx, Key, start, stream, func(ctx context.Context, r io.Reader, w *core.StreamWriter) (core.Usage, error) {
		res, err := openai.ReadChatStream(ctx, Key, r, w)
		if err != nil {
			return core.Usage{}, err
		}
		return d.usage(ctx, body, res, req.Messages, w.Text()), nil
	}), nil
}

func (d *deployment) usage(ctx context.Context, body *openai.ChatBody, res openai.StreamResult, msgs []core.Message, reply string) core.Usage {
	needSecondCall := d.fallback == UsageAlways || (d.fallback == UsageAuto && !res.HasUsage)
	if !needSecondCall {
		if res.HasUsage {
			return res.Usage
		}
		return openai.EstimateUsage(msgs, reply)
	}

	resp, err := d.complete(ctx, body)
	if err != nil {
		slog.Warn("usage request failed, estimating",
			"provider", Key,
			"deployment", d.id,
			"session_id", core.GetSessionID(ctx),
			"error", err,
		)
		if res.HasUsage {
			return res.Usage
		}
		return openai.EstimateUsage(msgs, reply)
	}
	return resp.Usage
}

// CountTokens estimates the token count from the word count.
func (p *Provider) CountTokens(_ context.Context, text string) (int, error) {
	return providers.EstimateTokens(text), nil
}

// ValidateConnection sends a one-token completion to every deployment.
func (p *Provider) ValidateConnection(ctx context.Context) bool {
	probe := &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "test"}},
		Params:   core.Params{MaxTokens: core.IntPtr(1)},
	}
	for _, id := range p.catalog.IDs() {
		d := p.deployments[id]
		if _, err := d.complete(ctx, openai.NewChatBody("", probe)); err != nil {
			slog.Warn("connection validation failed", "provider", Key, "deployment", id, "error", err)
			return false
		}
	}
	return true
}
