// Package billing prices completion calls, keeps the per-user cost ledger,
// and picks the model tier a user's next turn runs on.
package billing

import "github.com/zulandar/switchboard/internal/config"

// Rates holds per-1000-token pricing for a model.
type Rates struct {
	InputPer1K  float64 // currency units per 1000 prompt tokens
	OutputPer1K float64 // currency units per 1000 completion tokens
}

// Usage is the token accounting reported by the completion provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Cost prices a call: prompt/1000*input + completion/1000*output.
func Cost(u Usage, r Rates) float64 {
	return float64(u.PromptTokens)/1000*r.InputPer1K +
		float64(u.CompletionTokens)/1000*r.OutputPer1K
}

// RateTable maps model identifiers to their rates.
type RateTable map[string]Rates

// Lookup returns the rates for model. Unknown models are priced at the most
// expensive rates in the table so spend is never silently under-counted.
func (t RateTable) Lookup(model string) (Rates, bool) {
	if r, ok := t[model]; ok {
		return r, true
	}
	var worst Rates
	for _, r := range t {
		if r.InputPer1K > worst.InputPer1K {
			worst.InputPer1K = r.InputPer1K
		}
		if r.OutputPer1K > worst.OutputPer1K {
			worst.OutputPer1K = r.OutputPer1K
		}
	}
	return worst, false
}

// Tier is a named completion-model configuration.
type Tier struct {
	Name          string
	Model         string
	Rates         Rates
	ContextWindow int
}

// TierFromConfig converts a configured tier.
func TierFromConfig(name string, tc config.TierConfig) Tier {
	return Tier{
		Name:          name,
		Model:         tc.Model,
		Rates:         Rates{InputPer1K: tc.InputRate, OutputPer1K: tc.OutputRate},
		ContextWindow: tc.ContextWindow,
	}
}

// RateTableFromConfig builds the rate table for every configured tier.
func RateTableFromConfig(tiers map[string]config.TierConfig) RateTable {
	t := make(RateTable, len(tiers))
	for _, tc := range tiers {
		t[tc.Model] = Rates{InputPer1K: tc.InputRate, OutputPer1K: tc.OutputRate}
	}
	return t
}
