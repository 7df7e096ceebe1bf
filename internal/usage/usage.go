// Package usage holds per-call performance records, the cost formula and
// aggregate statistics over a session's records.
package usage

import (
	"time"

	"github.com/google/uuid"

	"llmbench/internal/core"
)

// PerformanceRecord represents one successful turn.
type PerformanceRecord struct {
	// ID is a unique identifier for this record (UUID)
	ID string `json:"id"`

	// Timestamp is when the turn completed
	Timestamp time.Time `json:"timestamp"`

	Provider string `json:"provider"`
	Model    string `json:"model"`

	// ResponseTime is wall-clock seconds from request start to the last delta
	ResponseTime float64 `json:"response_time"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Cost in USD, derived from the model's pricing
	Cost float64 `json:"cost"`
}

// NewRecord builds a record from the terminal stream statistics and the
// pricing of the model that produced them.
func NewRecord(provider string, info *core.ModelInfo, stats *core.Stats) PerformanceRecord {
	var pricing *core.Pricing
	model := ""
	if info != nil {
		pricing = info.Pricing
		model = info.Name
	}
	return PerformanceRecord{
		ID:               uuid.NewString(),
		Timestamp:        time.Now().UTC(),
		Provider:         provider,
		Model:            model,
		ResponseTime:     stats.ResponseTimeSeconds,
		PromptTokens:     stats.PromptTokens,
		CompletionTokens: stats.CompletionTokens,
		TotalTokens:      stats.TotalTokens,
		Cost:             Cost(pricing, stats.PromptTokens, stats.CompletionTokens),
	}
}
