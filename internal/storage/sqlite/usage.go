package sqlite

import (
	"context"
	"strings"

	"github.com/plexus-gateway/plexus/internal/usage"
)

// InsertUsage batch-inserts trace entries for completed requests.
// cols must match the number of columns in the INSERT below. A single
// multi-row INSERT avoids N round-trips for large batches.
func (s *Store) InsertUsage(ctx context.Context, records []usage.TraceEntry) error {
	if len(records) == 0 {
		return nil
	}

	const cols = 21
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.RequestID, r.ProviderID, r.AliasID, r.CanonicalSlug, r.KeyName,
			boolToInt(r.Streaming), r.StartUnixMs, r.DurationMs, r.ProviderTTFTMs, boolToInt(r.HasTTFT),
			r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.TotalTokens,
			r.Usage.CachedTokens, r.Usage.ReasoningTokens,
			r.TokensPerSecond, r.Cost, r.CostSource,
			boolToInt(r.Truncated), r.Cause,
		)
	}

	query := `INSERT INTO usage_records
		(id, request_id, provider_id, alias_id, canonical_slug, key_name,
		 streaming, start_unix_ms, duration_ms, provider_ttft_ms, has_ttft,
		 prompt_tokens, completion_tokens, total_tokens, cached_tokens, reasoning_tokens,
		 tokens_per_second, cost_usd, cost_source, truncated, cause)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// InsertErrors batch-inserts error entries for failed requests.
func (s *Store) InsertErrors(ctx context.Context, records []usage.ErrorEntry) error {
	if len(records) == 0 {
		return nil
	}

	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*7)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?)"
		args = append(args, r.ID, r.RequestID, r.ProviderID, r.AliasID, r.KeyName, r.UnixMs, r.Kind)
		args = append(args, r.Message)
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
	}

	query := `INSERT INTO usage_errors
		(id, request_id, provider_id, alias_id, key_name, unix_ms, kind, message)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// SumCost returns total accumulated cost for a given key name, used by
// budget-aware admission checks.
func (s *Store) SumCost(ctx context.Context, keyName string) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records WHERE key_name = ?`, keyName,
	).Scan(&total)
	return total, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
