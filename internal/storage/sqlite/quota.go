package sqlite

import (
	"context"

	"github.com/plexus-gateway/plexus/internal/quota"
)

// LoadQuotaState returns every persisted quota window, used once at
// startup to restore Tracker state across restarts.
func (s *Store) LoadQuotaState(ctx context.Context) ([]quota.Window, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT checker_id, window_type, current_usage, limit_value, window_start_unix_ms, last_updated_unix_ms
		 FROM quota_state`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quota.Window
	for rows.Next() {
		var w quota.Window
		var windowType string
		if err := rows.Scan(&w.CheckerID, &windowType, &w.CurrentUsage, &w.Limit, &w.WindowStartUnixMs, &w.LastUpdatedUnixMs); err != nil {
			return nil, err
		}
		w.WindowType = quota.WindowType(windowType)
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpsertQuotaState idempotently writes one window's current state, called
// synchronously from Tracker.ObserveUsage on every admitted delta.
func (s *Store) UpsertQuotaState(ctx context.Context, w quota.Window) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO quota_state (checker_id, window_type, current_usage, limit_value, window_start_unix_ms, last_updated_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (checker_id, window_type) DO UPDATE SET
			current_usage = excluded.current_usage,
			limit_value = excluded.limit_value,
			window_start_unix_ms = excluded.window_start_unix_ms,
			last_updated_unix_ms = excluded.last_updated_unix_ms`,
		w.CheckerID, string(w.WindowType), w.CurrentUsage, w.Limit, w.WindowStartUnixMs, w.LastUpdatedUnixMs,
	)
	return err
}
