package usage

import "llmbench/internal/core"

// Cost returns the USD cost of a call: prompt tokens at the input rate plus
// completion tokens at the output rate, both per 1K tokens. A nil pricing
// costs nothing.
func Cost(pricing *core.Pricing, promptTokens, completionTokens int) float64 {
	if pricing == nil {
		return 0
	}
	return float64(promptTokens)/1000*pricing.InputPer1K +
		float64(completionTokens)/1000*pricing.OutputPer1K
}
