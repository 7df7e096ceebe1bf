// Package providers holds the provider registry, the shared model catalog
// helpers and the adapter cache. Vendor adapters live in subpackages and
// register themselves from init().
package providers

import (
	"net/http"
	"slices"
	"sync"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/llmclient"
)

// BuildOptions are passed to every builder alongside the credential source.
type BuildOptions struct {
	// HTTPClient replaces the shared default client when set
	HTTPClient *http.Client
	// Hooks observe every vendor request
	Hooks llmclient.Hooks
	// AzureUsageFallback is the policy used when a credential group does not
	// set AZURE_USAGE_FALLBACK (auto, always, never).
	AzureUsageFallback string
}

// Builder creates a provider instance from configuration. It must fail with a
// configuration error before any network call when credentials are missing.
type Builder func(src config.Source, opts BuildOptions) (core.Provider, error)

var (
	builtinMu sync.RWMutex
	builtins  = make(map[string]Builder)
)

// Register allows provider packages to register themselves.
// This should be called from init() functions in provider packages.
func Register(key string, builder Builder) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	builtins[key] = builder
}

// Registered returns the keys registered through Register, sorted.
func Registered() []string {
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	keys := make([]string, 0, len(builtins))
	for k := range builtins {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
