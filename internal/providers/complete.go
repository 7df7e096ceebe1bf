package providers

import (
	"context"

	"llmbench/internal/core"
)

// Complete runs req against p, streaming or not according to req.Stream.
// A streamed request is drained and folded into a CompletionResult.
func Complete(ctx context.Context, p core.Provider, req *core.ChatRequest) (*core.CompletionResult, error) {
	if !req.Stream {
		return p.ChatCompletion(ctx, req)
	}

	stream, err := p.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	stats, err := core.Collect(stream)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		if info, err := p.GetModelInfo(ctx, ""); err == nil {
			model = info.Name
		}
	}
	return core.NewCompletionResult(model, stats.Content, stats.PromptTokens, stats.CompletionTokens), nil
}

// GenerateText sends prompt as a single user message to the default model.
func GenerateText(ctx context.Context, p core.Provider, prompt string, params core.Params) (string, error) {
	res, err := p.ChatCompletion(ctx, &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: prompt}},
		Params:   params,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
