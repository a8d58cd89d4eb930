// Package quota implements QuotaTracker (C4): windowed usage counters per
// (checkerId, windowType) with admission checks and window-duration resets.
package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WindowType is one of the recognized quota window kinds.
type WindowType string

const (
	FiveHour     WindowType = "five_hour"
	Daily        WindowType = "daily"
	Weekly       WindowType = "weekly"
	Monthly      WindowType = "monthly"
	ToolCalls    WindowType = "toolcalls"
	Search       WindowType = "search"
	Subscription WindowType = "subscription"
)

// duration returns the window length for windowType, or 0 for Subscription
// (an informational balance window with no reset/admit semantics) and for
// ToolCalls/Search, whose duration matches the enclosing checker's declared
// companion window (daily or weekly) -- callers pass that explicitly via
// ObserveUsage's windowDuration parameter in that case.
func duration(wt WindowType) time.Duration {
	switch wt {
	case FiveHour:
		return 5 * time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Window is the QuotaWindow entity: current usage against a limit, with
// reset bookkeeping.
type Window struct {
	CheckerID        string
	WindowType       WindowType
	CurrentUsage     float64
	Limit            float64
	WindowStartUnixMs int64
	LastUpdatedUnixMs int64
}

// UtilizationPercent is the derived 100*currentUsage/limit value.
func (w Window) UtilizationPercent() float64 {
	if w.Limit <= 0 {
		return 0
	}
	return 100 * w.CurrentUsage / w.Limit
}

type key struct {
	checkerID  string
	windowType WindowType
}

// StateStore is the persistence contract from SPEC_FULL.md §4.3/§6: a
// key-value store keyed by (checker ID, window type) holding quota state rows.
type StateStore interface {
	LoadQuotaState(ctx context.Context) ([]Window, error)
	UpsertQuotaState(ctx context.Context, w Window) error
}

// Tracker is the QuotaTracker: a mutex-guarded map of windows, optionally
// backed by a StateStore for startup restore and idempotent upserts.
type Tracker struct {
	mu      sync.Mutex
	windows map[key]*Window
	limits  map[key]float64 // configured limit, independent of the live Window
	store   StateStore
}

// NewTracker returns an empty Tracker. Pass a non-nil store to enable
// persistence; pass nil to run purely in-memory (acceptable per the spec:
// cooldowns are in-process-only, and quota persistence is optional).
func NewTracker(store StateStore) *Tracker {
	return &Tracker{windows: make(map[key]*Window), limits: make(map[key]float64), store: store}
}

// Restore loads persisted windows from the backing store, if any, replacing
// in-memory state. Call once at startup.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	rows, err := t.store.LoadQuotaState(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range rows {
		wc := w
		t.windows[key{w.CheckerID, w.WindowType}] = &wc
	}
	return nil
}

// SetLimit configures the admission limit for one (checkerID, windowType).
func (t *Tracker) SetLimit(checkerID string, windowType WindowType, limit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limits[key{checkerID, windowType}] = limit
}

func (t *Tracker) getOrInit(k key, now time.Time) *Window {
	w, ok := t.windows[k]
	if !ok {
		w = &Window{CheckerID: k.checkerID, WindowType: k.windowType, Limit: t.limits[k], WindowStartUnixMs: now.UnixMilli()}
		t.windows[k] = w
	}
	if w.Limit == 0 {
		w.Limit = t.limits[k]
	}
	return w
}

// ObserveUsage advances currentUsage for (checkerID, windowType) by delta.
// If the window has aged past its duration, it is reset to zero before the
// delta is applied. windowDuration overrides the type-derived duration,
// used for ToolCalls/Search windows whose period matches their enclosing
// checker's daily/weekly cadence; pass 0 to use the type-derived duration.
func (t *Tracker) ObserveUsage(ctx context.Context, checkerID string, windowType WindowType, delta float64, windowDuration time.Duration, now time.Time) {
	t.mu.Lock()
	k := key{checkerID, windowType}
	w := t.getOrInit(k, now)

	d := windowDuration
	if d == 0 {
		d = duration(windowType)
	}
	if d > 0 && now.UnixMilli() >= w.WindowStartUnixMs+d.Milliseconds() {
		w.CurrentUsage = 0
		w.WindowStartUnixMs = now.UnixMilli()
	}
	w.CurrentUsage += delta
	w.LastUpdatedUnixMs = now.UnixMilli()
	snapshot := *w
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.UpsertQuotaState(ctx, snapshot); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "quota state persist failed",
				slog.String("checker", checkerID), slog.String("error", err.Error()))
		}
	}
}

// Snapshot returns all windows for checkerID with utilization percentages
// already computable via Window.UtilizationPercent.
func (t *Tracker) Snapshot(checkerID string) []Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Window
	for k, w := range t.windows {
		if k.checkerID == checkerID {
			out = append(out, *w)
		}
	}
	return out
}

// Admit returns false (deny) if any non-informational window for checkerID
// has reached or exceeded its limit; true (allow) otherwise. Subscription
// windows never gate admission.
func (t *Tracker) Admit(checkerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, w := range t.windows {
		if k.checkerID != checkerID || k.windowType == Subscription {
			continue
		}
		if w.Limit > 0 && w.CurrentUsage >= w.Limit {
			return false
		}
	}
	return true
}
