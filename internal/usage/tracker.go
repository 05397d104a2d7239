// Package usage keeps raw per-provider call counters. It is
// deliberately decoupled from health so volume statistics survive
// health-policy changes; it serves observability, not routing.
package usage

import (
	"sync"
	"sync/atomic"
	"time"

	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
)

// Stats is a read-only counter snapshot.
type Stats struct {
	Provider  marketdata.ProviderType `json:"provider"`
	Successes int64                   `json:"successes"`
	Failures  int64                   `json:"failures"`
	Total     int64                   `json:"total"`
	Since     time.Time               `json:"since"`
}

type counters struct {
	successes atomic.Int64
	failures  atomic.Int64
	since     time.Time
}

// Tracker owns the counters; increments are atomic so concurrent
// requests never lose updates.
type Tracker struct {
	mu      sync.RWMutex
	entries map[marketdata.ProviderType]*counters
}

func NewTracker() *Tracker {
	return &Tracker{entries: map[marketdata.ProviderType]*counters{}}
}

func (t *Tracker) get(p marketdata.ProviderType) *counters {
	t.mu.RLock()
	c, ok := t.entries[p]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = t.entries[p]; ok {
		return c
	}
	c = &counters{since: time.Now()}
	t.entries[p] = c
	return c
}

func (t *Tracker) RecordSuccess(p marketdata.ProviderType) {
	t.get(p).successes.Add(1)
	observ.IncCounter("provider_requests_total", map[string]string{
		"provider": string(p), "result": "success",
	})
}

func (t *Tracker) RecordFailure(p marketdata.ProviderType) {
	t.get(p).failures.Add(1)
	observ.IncCounter("provider_requests_total", map[string]string{
		"provider": string(p), "result": "failure",
	})
}

func (t *Tracker) Snapshot(p marketdata.ProviderType) Stats {
	c := t.get(p)
	s := c.successes.Load()
	f := c.failures.Load()
	return Stats{Provider: p, Successes: s, Failures: f, Total: s + f, Since: c.since}
}

func (t *Tracker) SnapshotAll() map[marketdata.ProviderType]Stats {
	t.mu.RLock()
	providers := make([]marketdata.ProviderType, 0, len(t.entries))
	for p := range t.entries {
		providers = append(providers, p)
	}
	t.mu.RUnlock()

	out := make(map[marketdata.ProviderType]Stats, len(providers))
	for _, p := range providers {
		out[p] = t.Snapshot(p)
	}
	return out
}

func (t *Tracker) Reset(p marketdata.ProviderType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[p] = &counters{since: time.Now()}
}

func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for p := range t.entries {
		t.entries[p] = &counters{since: now}
	}
}
