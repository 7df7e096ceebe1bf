package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"llmbench/config"
	"llmbench/internal/core"
)

// Registry maps provider keys to builders and resolves them against a
// credential source.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
	source   config.Source
	opts     BuildOptions
}

// NewRegistry returns an empty registry.
func NewRegistry(src config.Source, opts BuildOptions) *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		source:   src,
		opts:     opts,
	}
}

// NewDefaultRegistry returns a registry seeded with every builder registered
// through Register.
func NewDefaultRegistry(src config.Source, opts BuildOptions) *Registry {
	r := NewRegistry(src, opts)
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	for k, b := range builtins {
		r.builders[k] = b
	}
	return r
}

// Register adds or replaces the builder for key.
func (r *Registry) Register(key string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[key] = builder
}

// Resolve builds a fresh adapter for key. Unknown keys fail with an unknown
// provider error; configuration errors from the builder propagate unchanged.
func (r *Registry) Resolve(key string) (core.Provider, error) {
	r.mu.RLock()
	builder, ok := r.builders[key]
	r.mu.RUnlock()
	if !ok {
		return nil, core.NewUnknownProviderError(key)
	}
	return builder(r.source, r.opts)
}

// Available returns every registered key, sorted, whether or not it is configured.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.builders))
	for k := range r.builders {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Source returns the credential source the registry resolves against.
func (r *Registry) Source() config.Source {
	return r.source
}

// Status reports whether a provider can be constructed with the current credentials.
type Status struct {
	Key          string   `json:"key"`
	Configured   bool     `json:"configured"`
	Error        string   `json:"error,omitempty"`
	Missing      []string `json:"missing,omitempty"`
	Models       []string `json:"models,omitempty"`
	DefaultModel string   `json:"default_model,omitempty"`
}

// Statuses attempts to construct every registered provider. No vendor is
// contacted; model lists come from the static catalogs.
func (r *Registry) Statuses(ctx context.Context) []Status {
	keys := r.Available()
	out := make([]Status, 0, len(keys))
	for _, key := range keys {
		st := Status{Key: key}
		p, err := r.Resolve(key)
		if err != nil {
			st.Error = err.Error()
			var ce *core.Error
			if errors.As(err, &ce) {
				st.Missing = ce.Missing
			}
			out = append(out, st)
			continue
		}
		st.Configured = true
		if models, err := p.ListModels(ctx); err == nil {
			st.Models = models
		}
		if info, err := p.GetModelInfo(ctx, ""); err == nil {
			st.DefaultModel = info.Name
		} else {
			slog.Debug("provider has no default model", "provider", key, "error", err)
		}
		out = append(out, st)
	}
	return out
}

// String is used in log lines.
func (s Status) String() string {
	if s.Configured {
		return fmt.Sprintf("%s: configured (%d models)", s.Key, len(s.Models))
	}
	return fmt.Sprintf("%s: not configured", s.Key)
}
