// Package cooldown implements CooldownManager (C3): a per-provider
// Active/Free failure-tracking state machine with reason-classified,
// duration-policy cooldowns and queryable, pure-function filtering.
package cooldown

import (
	"sync"
	"time"
)

// Reason classifies why a provider was placed on cooldown.
type Reason string

const (
	RateLimit       Reason = "rate_limit"
	AuthError       Reason = "auth_error"
	Timeout         Reason = "timeout"
	ServerError     Reason = "server_error"
	ConnectionError Reason = "connection_error"
	Manual          Reason = "manual"
)

// Entry records one cooldown period. Invariant: StartUnixMs <= EndUnixMs.
type Entry struct {
	ProviderID        string
	Reason            Reason
	StartUnixMs       int64
	EndUnixMs         int64
	HTTPStatus        int
	Message           string
	RetryAfterSeconds int64
}

// Policy configures the duration rules for one provider. Zero fields fall
// back to DefaultPolicy's values (see resolvePolicy).
type Policy struct {
	RateLimitMinSeconds    int64
	RateLimitCapSeconds    int64
	AuthErrorSeconds       int64
	TimeoutSeconds         int64
	TimeoutCapSeconds      int64
	ServerErrorSeconds     int64
	ServerErrorCapSeconds  int64
	ConnectionSeconds      int64
	ConnectionCapSeconds   int64
}

// DefaultPolicy implements the duration table from SPEC_FULL.md §4.2.
var DefaultPolicy = Policy{
	RateLimitMinSeconds:   30,
	RateLimitCapSeconds:   3600,
	AuthErrorSeconds:      15 * 60,
	TimeoutSeconds:        60,
	TimeoutCapSeconds:     600,
	ServerErrorSeconds:    60,
	ServerErrorCapSeconds: 600,
	ConnectionSeconds:     30,
	ConnectionCapSeconds:  300,
}

func resolvePolicy(p Policy) Policy {
	d := DefaultPolicy
	if p.RateLimitMinSeconds != 0 {
		d.RateLimitMinSeconds = p.RateLimitMinSeconds
	}
	if p.RateLimitCapSeconds != 0 {
		d.RateLimitCapSeconds = p.RateLimitCapSeconds
	}
	if p.AuthErrorSeconds != 0 {
		d.AuthErrorSeconds = p.AuthErrorSeconds
	}
	if p.TimeoutSeconds != 0 {
		d.TimeoutSeconds = p.TimeoutSeconds
	}
	if p.TimeoutCapSeconds != 0 {
		d.TimeoutCapSeconds = p.TimeoutCapSeconds
	}
	if p.ServerErrorSeconds != 0 {
		d.ServerErrorSeconds = p.ServerErrorSeconds
	}
	if p.ServerErrorCapSeconds != 0 {
		d.ServerErrorCapSeconds = p.ServerErrorCapSeconds
	}
	if p.ConnectionSeconds != 0 {
		d.ConnectionSeconds = p.ConnectionSeconds
	}
	if p.ConnectionCapSeconds != 0 {
		d.ConnectionCapSeconds = p.ConnectionCapSeconds
	}
	return d
}

// state is per-provider cooldown bookkeeping, guarded by its own mutex so
// transitions for one provider are totally ordered without contending with
// other providers (SPEC_FULL.md §5 ordering guarantee).
type state struct {
	mu          sync.Mutex
	entry       *Entry // nil when Free
	streak      map[Reason]int
	lastUsed    time.Time
	policy      Policy
	hasPolicy   bool
}

// Manager is the CooldownManager registry, keyed by providerID.
type Manager struct {
	mu    sync.RWMutex
	byID  map[string]*state
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]*state)}
}

func (m *Manager) getOrCreate(providerID string) *state {
	m.mu.RLock()
	s, ok := m.byID[providerID]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.byID[providerID]; ok {
		return s
	}
	s = &state{streak: make(map[Reason]int)}
	m.byID[providerID] = s
	return s
}

// SetPolicy overrides the default duration policy for one provider, per an
// optional `cooldown` block in its config entry.
func (m *Manager) SetPolicy(providerID string, p Policy) {
	s := m.getOrCreate(providerID)
	s.mu.Lock()
	s.policy = resolvePolicy(p)
	s.hasPolicy = true
	s.mu.Unlock()
}

func durationFor(s *state, reason Reason, retryAfterSeconds int64) int64 {
	policy := DefaultPolicy
	if s.hasPolicy {
		policy = s.policy
	}
	switch reason {
	case RateLimit:
		d := retryAfterSeconds
		if d < policy.RateLimitMinSeconds {
			d = policy.RateLimitMinSeconds
		}
		if d > policy.RateLimitCapSeconds {
			d = policy.RateLimitCapSeconds
		}
		return d
	case AuthError:
		return policy.AuthErrorSeconds
	case Timeout:
		return doubled(policy.TimeoutSeconds, policy.TimeoutCapSeconds, s.streak[Timeout])
	case ServerError:
		return doubled(policy.ServerErrorSeconds, policy.ServerErrorCapSeconds, s.streak[ServerError])
	case ConnectionError:
		return doubled(policy.ConnectionSeconds, policy.ConnectionCapSeconds, s.streak[ConnectionError])
	case Manual:
		return -1 // sentinel: until cleared, see RecordFailure
	default:
		return policy.ServerErrorSeconds
	}
}

// doubled returns base*2^streak capped at cap. streak=0 yields base.
func doubled(base, cap int64, streak int) int64 {
	d := base
	for i := 0; i < streak; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// RecordFailure transitions providerID to Active per the duration policy
// for reason. httpStatus and retryAfterSeconds are both optional (0 means
// "not provided"); message is stored for admin inspection.
func (m *Manager) RecordFailure(providerID string, reason Reason, httpStatus int, retryAfterSeconds int64, message string, now time.Time) {
	s := m.getOrCreate(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	durationSec := durationFor(s, reason, retryAfterSeconds)
	var end int64
	if durationSec < 0 {
		end = int64(1<<63 - 1) // Manual: effectively "until cleared"
	} else {
		end = now.Add(time.Duration(durationSec) * time.Second).UnixMilli()
	}

	s.entry = &Entry{
		ProviderID:        providerID,
		Reason:            reason,
		StartUnixMs:       now.UnixMilli(),
		EndUnixMs:         end,
		HTTPStatus:        httpStatus,
		Message:           message,
		RetryAfterSeconds: retryAfterSeconds,
	}
	s.lastUsed = now
	if reason == Timeout || reason == ServerError || reason == ConnectionError {
		s.streak[reason]++
	}
}

// RecordSuccess transitions providerID to Free and resets doubling streaks.
func (m *Manager) RecordSuccess(providerID string, now time.Time) {
	s := m.getOrCreate(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = nil
	s.streak = make(map[Reason]int)
	s.lastUsed = now
}

// ClearManual ends a manual cooldown early (admin action).
func (m *Manager) ClearManual(providerID string) {
	s := m.getOrCreate(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != nil && s.entry.Reason == Manual {
		s.entry = nil
	}
}

// IsOnCooldown reports whether providerID is currently Active and, if so,
// the number of seconds remaining (non-increasing between calls absent an
// intervening RecordSuccess, modulo wallclock -- SPEC_FULL.md §8).
func (m *Manager) IsOnCooldown(providerID string, now time.Time) (bool, int64) {
	s := m.getOrCreate(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return false, 0
	}
	remaining := s.entry.EndUnixMs - now.UnixMilli()
	if remaining <= 0 {
		s.entry = nil
		return false, 0
	}
	return true, (remaining + 999) / 1000
}

// Filter returns the subset of candidates whose provider is Free. Pure
// function over its inputs and the manager's current state.
func (m *Manager) Filter(candidates []string, now time.Time) []string {
	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if onCooldown, _ := m.IsOnCooldown(id, now); !onCooldown {
			out = append(out, id)
		}
	}
	return out
}

// MinRemainingSeconds returns the smallest remaining-seconds value across
// candidates, used to populate Retry-After on an all_providers_cooled_down
// 503 (SPEC_FULL.md §7). Returns 0 if candidates is empty.
func (m *Manager) MinRemainingSeconds(candidates []string, now time.Time) int64 {
	var min int64 = -1
	for _, id := range candidates {
		_, remaining := m.IsOnCooldown(id, now)
		if min == -1 || remaining < min {
			min = remaining
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// EvictStale removes per-provider state untouched since before cutoff, to
// bound memory for providers removed from config.
func (m *Manager) EvictStale(cutoff time.Time) {
	m.mu.RLock()
	var stale []string
	for id, s := range m.byID {
		s.mu.Lock()
		if s.lastUsed.Before(cutoff) && s.entry == nil {
			stale = append(stale, id)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	if len(stale) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range stale {
		delete(m.byID, id)
	}
}
