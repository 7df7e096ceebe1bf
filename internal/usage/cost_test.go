package usage

import (
	"math"
	"testing"

	"llmbench/internal/core"
)

func TestCost(t *testing.T) {
	tests := []struct {
		name       string
		pricing    *core.Pricing
		prompt     int
		completion int
		want       float64
	}{
		{"nil pricing", nil, 1000, 1000, 0},
		{"zero tokens", &core.Pricing{InputPer1K: 0.03, OutputPer1K: 0.06}, 0, 0, 0},
		{"gpt-4 rates", &core.Pricing{InputPer1K: 0.03, OutputPer1K: 0.06}, 1000, 500, 0.06},
		{"small turn", &core.Pricing{InputPer1K: 0.01, OutputPer1K: 0.02}, 5, 1, 0.00007},
		{"input only", &core.Pricing{InputPer1K: 0.0005}, 2000, 300, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.pricing, tt.prompt, tt.completion)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Cost() = %v, want %v", got, tt.want)
			}
		})
	}
}
