// Package providertest provides a scriptable core.Provider for tests of the
// layers above the adapters.
package providertest

import (
	"context"
	"sync"
	"time"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/providers"
)

// Key is the registry key the stub registers under.
const Key = "stub"

// Stub is a core.Provider whose stream is produced by Produce. Its catalog
// holds a single priced model, "stub-model".
type Stub struct {
	// Pricing of stub-model; nil means unpriced.
	Pricing *core.Pricing
	// OpenErr fails StreamChatCompletion before any stream exists.
	OpenErr error

	mu       sync.Mutex
	produce  core.ProduceFunc
	requests []*core.ChatRequest
}

// NewStub returns a stub that streams deltas and then reports u.
func NewStub(u core.Usage, deltas ...string) *Stub {
	s := &Stub{Pricing: &core.Pricing{InputPer1K: 0.01, OutputPer1K: 0.02}}
	s.SetProduce(func(_ context.Context, w *core.StreamWriter) (core.Usage, error) {
		for _, d := range deltas {
			if err := w.Delta(d); err != nil {
				return core.Usage{}, err
			}
		}
		return u, nil
	})
	return s
}

// SetProduce replaces the stream producer used by later calls.
func (s *Stub) SetProduce(fn core.ProduceFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.produce = fn
}

// Requests returns every request the stub received.
func (s *Stub) Requests() []*core.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*core.ChatRequest(nil), s.requests...)
}

// Registry returns a registry whose only provider is this stub.
func (s *Stub) Registry() *providers.Registry {
	r := providers.NewRegistry(config.NewMemoryStore(config.Credentials{}), providers.BuildOptions{})
	r.Register(Key, func(config.Source, providers.BuildOptions) (core.Provider, error) {
		return s, nil
	})
	return r
}

func (s *Stub) Name() string { return Key }

func (s *Stub) ListModels(context.Context) ([]string, error) {
	return []string{"stub-model"}, nil
}

func (s *Stub) GetModelInfo(_ context.Context, id string) (*core.ModelInfo, error) {
	if id != "" && id != "stub-model" {
		return nil, core.NewUnknownModelError(Key, id)
	}
	return &core.ModelInfo{Name: "stub-model", MaxContextTokens: 4096, Pricing: s.Pricing}, nil
}

func (s *Stub) ChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.CompletionResult, error) {
	stream, err := s.StreamChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	stats, err := core.Collect(stream)
	if err != nil {
		return nil, err
	}
	return core.NewCompletionResult("stub-model", stats.Content, stats.PromptTokens, stats.CompletionTokens), nil
}

func (s *Stub) StreamChatCompletion(ctx context.Context, req *core.ChatRequest) (*core.Stream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	produce := s.produce
	s.mu.Unlock()

	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return core.NewStream(ctx, Key, time.Now(), produce), nil
}

func (s *Stub) CountTokens(_ context.Context, text string) (int, error) {
	return providers.EstimateTokens(text), nil
}

func (s *Stub) ValidateConnection(context.Context) bool { return true }
