package usage

import (
	"cmp"
	"math"
	"slices"
)

// Distribution describes a sample of float values. Std is the sample
// standard deviation and is zero for fewer than two values.
type Distribution struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// TokenStats holds the sum and mean of one token counter.
type TokenStats struct {
	Sum  int     `json:"sum"`
	Mean float64 `json:"mean"`
}

// ModelSummary aggregates the records of one provider/model pair.
type ModelSummary struct {
	Provider         string       `json:"provider"`
	Model            string       `json:"model"`
	Count            int          `json:"count"`
	ResponseTime     Distribution `json:"response_time"`
	PromptTokens     TokenStats   `json:"prompt_tokens"`
	CompletionTokens TokenStats   `json:"completion_tokens"`
	TotalTokens      TokenStats   `json:"total_tokens"`
	CostSum          float64      `json:"cost_sum"`
	CostMean         float64      `json:"cost_mean"`
}

// Totals aggregates every record regardless of provider.
type Totals struct {
	Count        int          `json:"count"`
	ResponseTime Distribution `json:"response_time"`
	TotalTokens  TokenStats   `json:"total_tokens"`
	CostSum      float64      `json:"cost_sum"`
	CostMean     float64      `json:"cost_mean"`
	// CostPer1KTokens is zero when no tokens were recorded.
	CostPer1KTokens float64 `json:"cost_per_1k_tokens"`
}

// Summary is the statistics view over a performance log.
type Summary struct {
	Models []ModelSummary `json:"models"`
	Totals Totals         `json:"totals"`
}

// Summarize groups records by provider and model, ordered by both.
func Summarize(records []PerformanceRecord) Summary {
	type key struct{ provider, model string }
	groups := make(map[key][]PerformanceRecord)
	for _, r := range records {
		k := key{r.Provider, r.Model}
		groups[k] = append(groups[k], r)
	}

	summary := Summary{Models: make([]ModelSummary, 0, len(groups))}
	for k, recs := range groups {
		m := ModelSummary{Provider: k.provider, Model: k.model, Count: len(recs)}
		times := make([]float64, len(recs))
		for i, r := range recs {
			times[i] = r.ResponseTime
			m.PromptTokens.Sum += r.PromptTokens
			m.CompletionTokens.Sum += r.CompletionTokens
			m.TotalTokens.Sum += r.TotalTokens
			m.CostSum += r.Cost
		}
		n := float64(len(recs))
		m.ResponseTime = distribution(times)
		m.PromptTokens.Mean = float64(m.PromptTokens.Sum) / n
		m.CompletionTokens.Mean = float64(m.CompletionTokens.Sum) / n
		m.TotalTokens.Mean = float64(m.TotalTokens.Sum) / n
		m.CostMean = m.CostSum / n
		summary.Models = append(summary.Models, m)
	}
	slices.SortFunc(summary.Models, func(a, b ModelSummary) int {
		return cmp.Or(cmp.Compare(a.Provider, b.Provider), cmp.Compare(a.Model, b.Model))
	})

	summary.Totals = totals(records)
	return summary
}

func totals(records []PerformanceRecord) Totals {
	t := Totals{Count: len(records)}
	if len(records) == 0 {
		return t
	}
	times := make([]float64, len(records))
	for i, r := range records {
		times[i] = r.ResponseTime
		t.TotalTokens.Sum += r.TotalTokens
		t.CostSum += r.Cost
	}
	n := float64(len(records))
	t.ResponseTime = distribution(times)
	t.TotalTokens.Mean = float64(t.TotalTokens.Sum) / n
	t.CostMean = t.CostSum / n
	if t.TotalTokens.Sum > 0 {
		t.CostPer1KTokens = t.CostSum / float64(t.TotalTokens.Sum) * 1000
	}
	return t
}

func distribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	d := Distribution{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		d.Min = min(d.Min, v)
		d.Max = max(d.Max, v)
	}
	d.Mean = sum / float64(len(values))
	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			sq += (v - d.Mean) * (v - d.Mean)
		}
		d.Std = math.Sqrt(sq / float64(len(values)-1))
	}
	return d
}
