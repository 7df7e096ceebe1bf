package providers

import (
	"errors"
	"testing"

	"llmbench/internal/core"
)

func TestCatalog_Lookup(t *testing.T) {
	c := NewCatalog("openai", "gpt-3.5-turbo",
		Priced("gpt-4", 8192, 0.03, 0.06),
		Priced("gpt-3.5-turbo", 4096, 0.0005, 0.0015),
		core.ModelInfo{Name: "unpriced", MaxContextTokens: 1000},
	)

	tests := []struct {
		name      string
		id        string
		wantName  string
		wantErr   bool
		wantPrice bool
	}{
		{"empty selects default", "", "gpt-3.5-turbo", false, true},
		{"explicit", "gpt-4", "gpt-4", false, true},
		{"nil pricing", "unpriced", "unpriced", false, false},
		{"unknown", "gpt-5", "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := c.Lookup(tt.id)
			if tt.wantErr {
				if !errors.Is(err, core.ErrUnknownModel) {
					t.Errorf("Lookup(%q) error = %v, want unknown model", tt.id, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%q) error = %v", tt.id, err)
			}
			if info.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", info.Name, tt.wantName)
			}
			if (info.Pricing != nil) != tt.wantPrice {
				t.Errorf("Pricing = %v, want present=%v", info.Pricing, tt.wantPrice)
			}
		})
	}
}

func TestCatalog_LookupReturnsCopy(t *testing.T) {
	c := NewCatalog("x", "m", Priced("m", 100, 1, 2))
	a, _ := c.Lookup("m")
	a.Pricing.InputPer1K = 99

	b, _ := c.Lookup("m")
	if b.Pricing.InputPer1K != 1 {
		t.Errorf("catalog entry mutated through a lookup result: %v", b.Pricing.InputPer1K)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hello", 1},
		{"What is 2+2?", 3},
		{"one two three four five six seven eight nine ten", 13},
		{"  spaced \n\t out  ", 2},
	}

	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateMessages(t *testing.T) {
	msgs := []core.Message{
		{Role: core.RoleSystem, Content: "be brief"},
		{Role: core.RoleUser, Content: "one two three four five six seven eight nine ten"},
	}
	if got := EstimateMessages(msgs); got != 15 {
		t.Errorf("EstimateMessages() = %d, want 15", got)
	}
}
