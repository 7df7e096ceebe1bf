package core

import (
	"encoding/json"
	"time"
)

// Message roles understood by every adapter.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single message in the chat
type Message struct {
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Name         string          `json:"name,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate a stored log entry.
func (m Message) Clone() Message {
	if m.FunctionCall != nil {
		m.FunctionCall = append(json.RawMessage(nil), m.FunctionCall...)
	}
	return m
}

// CloneMessages copies a message slice element by element.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Pricing is the cost per 1,000 tokens in USD.
type Pricing struct {
	InputPer1K  float64 `json:"input"`
	OutputPer1K float64 `json:"output"`
}

// ModelInfo describes one model from an adapter catalog.
// Pricing is nil when the vendor publishes no price for the model.
type ModelInfo struct {
	Name             string   `json:"name"`
	MaxContextTokens int      `json:"max_tokens"`
	Pricing          *Pricing `json:"pricing,omitempty"`
}

// Params are the optional generation knobs. Nil means unset; each adapter
// forwards only the knobs its vendor supports and drops the rest.
type Params struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

// ChatRequest represents a chat completion request against one adapter
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
	Params   Params    `json:"params"`
}

// WithStreaming returns a shallow copy of the request with Stream set to true.
// This avoids mutating the caller's request object.
func (r *ChatRequest) WithStreaming() *ChatRequest {
	cp := *r
	cp.Stream = true
	return &cp
}

// CompletionResult is the outcome of a non-streaming completion.
type CompletionResult struct {
	Text             string    `json:"text"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
}

// NewCompletionResult fills TotalTokens from its parts.
func NewCompletionResult(model, text string, promptTokens, completionTokens int) *CompletionResult {
	return &CompletionResult{
		Text:             text,
		Model:            model,
		CreatedAt:        time.Now(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
