package providers

import (
	"math"
	"strings"

	"llmbench/internal/core"
)

// Catalog is a static model table owned by one adapter.
type Catalog struct {
	provider     string
	defaultModel string
	models       []core.ModelInfo
}

// NewCatalog builds a catalog. defaultModel must be one of models.
func NewCatalog(provider, defaultModel string, models ...core.ModelInfo) Catalog {
	return Catalog{provider: provider, defaultModel: defaultModel, models: models}
}

// IDs returns the model ids in catalog order.
func (c Catalog) IDs() []string {
	ids := make([]string, len(c.models))
	for i, m := range c.models {
		ids[i] = m.Name
	}
	return ids
}

// Len returns the number of models.
func (c Catalog) Len() int { return len(c.models) }

// Default returns the default model id.
func (c Catalog) Default() string { return c.defaultModel }

// Lookup returns a copy of the model entry. An empty id selects the default.
func (c Catalog) Lookup(id string) (*core.ModelInfo, error) {
	if id == "" {
		id = c.defaultModel
	}
	for _, m := range c.models {
		if m.Name == id {
			info := m
			if m.Pricing != nil {
				p := *m.Pricing
				info.Pricing = &p
			}
			return &info, nil
		}
	}
	return nil, core.NewUnknownModelError(c.provider, id)
}

// Priced is shorthand for a catalog entry with per-1K pricing.
func Priced(name string, maxTokens int, input, output float64) core.ModelInfo {
	return core.ModelInfo{
		Name:             name,
		MaxContextTokens: maxTokens,
		Pricing:          &core.Pricing{InputPer1K: input, OutputPer1K: output},
	}
}

// tokensPerWord approximates tokenizer output for English prose.
const tokensPerWord = 1.3

// EstimateTokens approximates a token count as word count times 1.3, truncated.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Floor(float64(words) * tokensPerWord))
}

// EstimateMessages sums EstimateTokens over message contents.
func EstimateMessages(msgs []core.Message) int {
	n := 0
	for _, m := range msgs {
		n += EstimateTokens(m.Content)
	}
	return n
}
