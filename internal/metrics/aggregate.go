package metrics

import (
	"sync"
	"time"
)

// sample is one completed request's shape, recorded into the current
// 1-second bucket of a bucketRing.
type sample struct {
	count      int64
	successes  int64
	durationMs int64 // running sum, for averaging
	ttftMs     int64 // running sum, for averaging
	ttftCount  int64
}

// bucketRing is a fixed-size ring of 1-second sample buckets, the same
// idiom the teacher's circuit breaker uses for its sliding error-rate
// window, repurposed here to hold duration/TTFT sums instead of error
// weights.
type bucketRing struct {
	buckets  [60]sample
	head     int
	headTime int64
}

func (r *bucketRing) advance(nowSec int64) {
	if r.headTime == 0 {
		r.headTime = nowSec
		return
	}
	gap := nowSec - r.headTime
	if gap <= 0 {
		return
	}
	clear := int(gap)
	if clear > 60 {
		clear = 60
	}
	for i := 0; i < clear; i++ {
		idx := (r.head + 1 + i) % 60
		r.buckets[idx] = sample{}
	}
	r.head = (r.head + int(gap)) % 60
	r.headTime = nowSec
}

func (r *bucketRing) record(nowSec int64, success bool, durationMs, ttftMs int64, hasTTFT bool) {
	r.advance(nowSec)
	b := &r.buckets[r.head]
	b.count++
	if success {
		b.successes++
	}
	b.durationMs += durationMs
	if hasTTFT {
		b.ttftMs += ttftMs
		b.ttftCount++
	}
}

// Snapshot is a read-only rolling aggregate for one (providerId, model).
type Snapshot struct {
	ProviderID     string
	Model          string
	RequestCount   int64
	SuccessCount   int64
	FailureCount   int64
	AvgDurationMs  float64
	AvgTTFTMs      float64
	TotalCostUSD   float64
	CostPer1M      float64
}

// Aggregator tracks rolling per-(providerId, model) aggregates used by the
// admin performance endpoint, a richer breakdown than raw Prometheus
// counters can answer ad hoc.
type Aggregator struct {
	mu      sync.RWMutex
	entries map[string]*aggEntry
}

type aggEntry struct {
	providerID string
	model      string
	mu         sync.Mutex
	ring       bucketRing
	totalCost  float64
	totalTokens int64
}

// NewAggregator builds an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[string]*aggEntry)}
}

func key(providerID, model string) string { return providerID + "\x00" + model }

func (a *Aggregator) entryFor(providerID, model string) *aggEntry {
	k := key(providerID, model)
	a.mu.RLock()
	e, ok := a.entries[k]
	a.mu.RUnlock()
	if ok {
		return e
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[k]; ok {
		return e
	}
	e = &aggEntry{providerID: providerID, model: model}
	a.entries[k] = e
	return e
}

// Record folds one completed request into the rolling aggregate for
// (providerID, model).
func (a *Aggregator) Record(providerID, model string, success bool, durationMs, ttftMs int64, hasTTFT bool, cost float64, totalTokens int, now time.Time) {
	e := a.entryFor(providerID, model)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ring.record(now.Unix(), success, durationMs, ttftMs, hasTTFT)
	e.totalCost += cost
	e.totalTokens += int64(totalTokens)
}

// Reset drops tracked aggregates matching model (or every aggregate, when
// model is empty), for the admin DELETE /v0/management/performance endpoint.
func (a *Aggregator) Reset(model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if model == "" {
		a.entries = make(map[string]*aggEntry)
		return
	}
	for k, e := range a.entries {
		if e.model == model {
			delete(a.entries, k)
		}
	}
}

// Snapshot returns a read-only view of every tracked (providerID, model)
// pair's rolling aggregate, as of now.
func (a *Aggregator) Snapshot(now time.Time) []Snapshot {
	a.mu.RLock()
	entries := make([]*aggEntry, 0, len(a.entries))
	for _, e := range a.entries {
		entries = append(entries, e)
	}
	a.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		e.ring.advance(now.Unix())
		var count, successes, durSum, ttftSum, ttftCount int64
		for i := range e.ring.buckets {
			b := &e.ring.buckets[i]
			count += b.count
			successes += b.successes
			durSum += b.durationMs
			ttftSum += b.ttftMs
			ttftCount += b.ttftCount
		}
		snap := Snapshot{
			ProviderID:   e.providerID,
			Model:        e.model,
			RequestCount: count,
			SuccessCount: successes,
			FailureCount: count - successes,
			TotalCostUSD: e.totalCost,
		}
		if count > 0 {
			snap.AvgDurationMs = float64(durSum) / float64(count)
		}
		if ttftCount > 0 {
			snap.AvgTTFTMs = float64(ttftSum) / float64(ttftCount)
		}
		if e.totalTokens > 0 {
			snap.CostPer1M = e.totalCost / float64(e.totalTokens) * 1_000_000
		}
		e.mu.Unlock()
		out = append(out, snap)
	}
	return out
}
