package core

import "context"

// Provider is the uniform adapter contract every vendor implements.
type Provider interface {
	// Name returns the registry key the adapter was built for.
	Name() string

	// ListModels returns the model ids this adapter can serve. Never empty.
	ListModels(ctx context.Context) ([]string, error)

	// GetModelInfo returns catalog metadata. An empty id selects the default model.
	GetModelInfo(ctx context.Context, modelID string) (*ModelInfo, error)

	// ChatCompletion executes a non-streaming completion.
	ChatCompletion(ctx context.Context, req *ChatRequest) (*CompletionResult, error)

	// StreamChatCompletion opens a streamed completion. Connection and
	// authentication failures are returned here; later failures surface
	// through Stream.Err.
	StreamChatCompletion(ctx context.Context, req *ChatRequest) (*Stream, error)

	// CountTokens returns an exact or estimated token count for text.
	CountTokens(ctx context.Context, text string) (int, error)

	// ValidateConnection reports whether the credentials work. It never errors.
	ValidateConnection(ctx context.Context) bool
}
