package usage

import (
	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
)

// Pricing is USD-per-1M-token rates for one canonical model.
type Pricing struct {
	InputPer1M     float64
	OutputPer1M    float64
	CachedPer1M    float64
	ReasoningPer1M float64
}

// providerDefaults holds known public pricing for canonical model slugs,
// consulted when an alias carries no pricing override. Kept small and
// illustrative; operators needing full coverage supply an alias override.
var providerDefaults = map[string]Pricing{
	"gpt-4o":                    {InputPer1M: 2.50, OutputPer1M: 10.00, CachedPer1M: 1.25},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60, CachedPer1M: 0.075},
	"o1":                        {InputPer1M: 15.00, OutputPer1M: 60.00, ReasoningPer1M: 60.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00, CachedPer1M: 0.30},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00, CachedPer1M: 0.08},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00, CachedPer1M: 1.50},
}

// Compute derives cost and its source for one request's usage, consulting
// the alias's own pricing override before the canonical model's provider
// default; unpriced models yield cost 0 and source "unknown".
func Compute(aliasPricing *config.PricingEntry, canonicalSlug string, u gateway.Usage) (cost float64, source string) {
	if aliasPricing != nil {
		return priced(Pricing{
			InputPer1M:     aliasPricing.InputPer1M,
			OutputPer1M:    aliasPricing.OutputPer1M,
			CachedPer1M:    aliasPricing.CachedPer1M,
			ReasoningPer1M: aliasPricing.ReasoningPer1M,
		}, u), "alias"
	}
	if p, ok := providerDefaults[canonicalSlug]; ok {
		return priced(p, u), "provider"
	}
	return 0, "unknown"
}

func priced(p Pricing, u gateway.Usage) float64 {
	billableInput := u.InputTokens - u.CachedTokens
	if billableInput < 0 {
		billableInput = 0
	}
	cost := float64(billableInput) / 1e6 * p.InputPer1M
	cost += float64(u.CachedTokens) / 1e6 * p.CachedPer1M
	cost += float64(u.OutputTokens) / 1e6 * p.OutputPer1M
	cost += float64(u.ReasoningTokens) / 1e6 * p.ReasoningPer1M
	return cost
}

// CostPer1M derives the $/1M-total-tokens rate implied by a completed
// request, used by MetricsCollector's per-(provider,model) aggregate.
func CostPer1M(cost float64, totalTokens int) float64 {
	if totalTokens <= 0 {
		return 0
	}
	return cost / float64(totalTokens) * 1_000_000
}
