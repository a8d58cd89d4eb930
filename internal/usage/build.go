package usage

import (
	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/gateway"
	"github.com/plexus-gateway/plexus/internal/streaming"
)

// BuildInput gathers everything Build needs out of one request's lifecycle;
// kept as a struct since the derivation has more inputs than fit a readable
// positional signature.
type BuildInput struct {
	RequestID     string
	ProviderID    string
	AliasID       string
	CanonicalSlug string
	KeyName       string
	Streaming     bool
	StartUnixMs   int64
	EndUnixMs     int64
	AliasPricing  *config.PricingEntry
	Usage         gateway.Usage
	Signal        streaming.Signal
}

// Build derives a TraceEntry per SPEC_FULL.md's UsageRecorder rules:
// durationMs = end - start; providerTtftMs = firstToken - start when the tap
// saw one; tokensPerSecond = outputTokens / (durationMs/1000) when both are
// positive; cost via Compute (alias override, then provider default, then
// unknown).
func Build(in BuildInput) TraceEntry {
	durationMs := in.EndUnixMs - in.StartUnixMs
	if durationMs < 0 {
		durationMs = 0
	}

	var ttftMs int64
	hasTTFT := in.Streaming && in.Signal.HasFirstToken
	if hasTTFT {
		ttftMs = in.Signal.FirstTokenUnixMs - in.StartUnixMs
		if ttftMs < 0 {
			ttftMs = 0
		}
	}

	var tokensPerSecond float64
	if in.Usage.OutputTokens > 0 && durationMs > 0 {
		tokensPerSecond = float64(in.Usage.OutputTokens) / (float64(durationMs) / 1000)
	}

	cost, costSource := Compute(in.AliasPricing, in.CanonicalSlug, in.Usage)

	return TraceEntry{
		RequestID:       in.RequestID,
		ProviderID:      in.ProviderID,
		AliasID:         in.AliasID,
		CanonicalSlug:   in.CanonicalSlug,
		KeyName:         in.KeyName,
		Streaming:       in.Streaming,
		StartUnixMs:     in.StartUnixMs,
		DurationMs:      durationMs,
		ProviderTTFTMs:  ttftMs,
		HasTTFT:         hasTTFT,
		Usage:           in.Usage,
		TokensPerSecond: tokensPerSecond,
		Cost:            cost,
		CostSource:      costSource,
		Truncated:       in.Signal.Truncated,
		Cause:           string(in.Signal.Cause),
	}
}
