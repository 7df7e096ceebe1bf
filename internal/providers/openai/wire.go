package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/tidwall/gjson"

	"llmbench/internal/core"
	"llmbench/internal/llmclient"
)

// ChatBody is the chat completions request body shared by OpenAI and Azure OpenAI.
type ChatBody struct {
	Model            string         `json:"model,omitempty"`
	Messages         []chatMessage  `json:"messages"`
	Stream           bool           `json:"stream,omitempty"`
	StreamOptions    *streamOptions `json:"stream_options,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
}

type chatMessage struct {
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Name         string          `json:"name,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// NewChatBody copies the supported knobs from req. top_k is not part of the
// chat completions API and is dropped.
func NewChatBody(model string, req *core.ChatRequest) *ChatBody {
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content, Name: m.Name, FunctionCall: m.FunctionCall}
	}
	return &ChatBody{
		Model:            model,
		Messages:         msgs,
		Temperature:      req.Params.Temperature,
		MaxTokens:        req.Params.MaxTokens,
		TopP:             req.Params.TopP,
		Stop:             req.Params.StopSequences,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		PresencePenalty:  req.Params.PresencePenalty,
	}
}

// WithStreamUsage marks the body as streaming and optionally asks the vendor
// to append a usage chunk.
func (b *ChatBody) WithStreamUsage(includeUsage bool) *ChatBody {
	cp := *b
	cp.Stream = true
	if includeUsage {
		cp.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return &cp
}

// ChatResponse is the subset of a chat completion response the harness reads.
type ChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage core.Usage `json:"usage"`
}

// Text returns the first choice's content.
func (r *ChatResponse) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// StreamResult is what ReadChatStream learned from a stream.
type StreamResult struct {
	Usage    core.Usage
	HasUsage bool
}

// ReadChatStream decodes chat.completion.chunk events into w. Usage is
// reported only when the vendor sent a usage chunk. A body that ends before
// "data: [DONE]" is a truncated response and fails with a transport error.
func ReadChatStream(ctx context.Context, provider string, r io.Reader, w *core.StreamWriter) (StreamResult, error) {
	var res StreamResult
	err := llmclient.ReadSSEUntilDone(r, func(_, data string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !gjson.Valid(data) {
			return core.NewTransportError(provider, 0, "malformed stream chunk: "+data, nil)
		}
		chunk := gjson.Parse(data)
		if msg := chunk.Get("error.message"); msg.Exists() {
			return core.NewTransportError(provider, 0, msg.String(), nil)
		}
		if delta := chunk.Get("choices.0.delta.content"); delta.Exists() {
			if err := w.Delta(delta.String()); err != nil {
				return err
			}
		}
		if usage := chunk.Get("usage"); usage.IsObject() {
			res.HasUsage = true
			res.Usage = core.Usage{
				PromptTokens:     int(usage.Get("prompt_tokens").Int()),
				CompletionTokens: int(usage.Get("completion_tokens").Int()),
				TotalTokens:      int(usage.Get("total_tokens").Int()),
			}
		}
		return nil
	})
	if errors.Is(err, llmclient.ErrMissingDone) {
		return res, core.NewTransportError(provider, 0, err.Error(), err)
	}
	return res, err
}
