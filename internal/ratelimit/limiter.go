// Package ratelimit gates outbound vendor calls with hard wall-clock
// windows (minute/hour/day). Windows reset at their boundary rather
// than refilling smoothly, which matches the "resets in" countdowns
// vendors publish and that callers see in the status snapshot.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
)

// Limits configures one provider's windows. Zero disables a window.
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// WindowStatus describes one window at read time.
type WindowStatus struct {
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Status is the derived per-provider snapshot. Computed on read, never
// stored.
type Status struct {
	Provider      marketdata.ProviderType `json:"provider"`
	Minute        WindowStatus            `json:"minute"`
	Hour          WindowStatus            `json:"hour"`
	Day           WindowStatus            `json:"day"`
	IsRateLimited bool                    `json:"is_rate_limited"`
}

type window struct {
	limit   int
	span    time.Duration
	used    int
	resetAt time.Time
}

// refresh rolls the window forward when its boundary has passed.
func (w *window) refresh(now time.Time) {
	if w.limit <= 0 {
		return
	}
	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		w.used = 0
		w.resetAt = now.Truncate(w.span).Add(w.span)
	}
}

func (w *window) available(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}
	return w.used < w.limit
}

func (w *window) status(now time.Time) WindowStatus {
	if w.limit <= 0 {
		return WindowStatus{}
	}
	remaining := w.limit - w.used
	if remaining < 0 {
		remaining = 0
	}
	return WindowStatus{Limit: w.limit, Remaining: remaining, ResetIn: w.resetAt.Sub(now)}
}

// Limiter is one provider's gate. All windows are consumed atomically:
// either every window has capacity and all are decremented, or none are.
type Limiter struct {
	mu       sync.Mutex
	provider marketdata.ProviderType
	minute   window
	hour     window
	day      window
	now      func() time.Time
}

func NewLimiter(provider marketdata.ProviderType, limits Limits) *Limiter {
	return newLimiter(provider, limits, time.Now)
}

func newLimiter(provider marketdata.ProviderType, limits Limits, now func() time.Time) *Limiter {
	return &Limiter{
		provider: provider,
		minute:   window{limit: limits.PerMinute, span: time.Minute},
		hour:     window{limit: limits.PerHour, span: time.Hour},
		day:      window{limit: limits.PerDay, span: 24 * time.Hour},
		now:      now,
	}
}

// TryAcquire consumes one token from every window if all have capacity.
// Non-blocking; on refusal no window is touched.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.minute.refresh(now)
	l.hour.refresh(now)
	l.day.refresh(now)

	if !l.minute.available(now) || !l.hour.available(now) || !l.day.available(now) {
		observ.IncCounter("rate_limit_rejected_total", map[string]string{"provider": string(l.provider)})
		return false
	}
	l.minute.used++
	l.hour.used++
	l.day.used++
	return true
}

// Wait blocks until capacity is available or ctx is done. It sleeps to
// the earliest exhausted window's reset edge (capped) instead of
// polling tightly.
func (l *Limiter) Wait(ctx context.Context) error {
	const maxSleep = 5 * time.Second
	for {
		if l.TryAcquire() {
			return nil
		}

		d := l.untilNextReset()
		if d <= 0 {
			d = 10 * time.Millisecond
		}
		if d > maxSleep {
			d = maxSleep
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// untilNextReset returns the shortest time until an exhausted window
// rolls over.
func (l *Limiter) untilNextReset() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var soonest time.Duration = -1
	for _, w := range []*window{&l.minute, &l.hour, &l.day} {
		if w.limit <= 0 || w.available(now) {
			continue
		}
		d := w.resetAt.Sub(now)
		if soonest < 0 || d < soonest {
			soonest = d
		}
	}
	return soonest
}

// Status reports the current snapshot without consuming capacity.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.minute.refresh(now)
	l.hour.refresh(now)
	l.day.refresh(now)

	s := Status{
		Provider: l.provider,
		Minute:   l.minute.status(now),
		Hour:     l.hour.status(now),
		Day:      l.day.status(now),
	}
	s.IsRateLimited = !l.minute.available(now) || !l.hour.available(now) || !l.day.available(now)
	return s
}

// Registry holds one limiter per provider, created lazily from the
// configured limits table.
type Registry struct {
	mu       sync.Mutex
	limiters map[marketdata.ProviderType]*Limiter
	limits   func(marketdata.ProviderType) Limits
}

func NewRegistry(limits func(marketdata.ProviderType) Limits) *Registry {
	return &Registry{
		limiters: map[marketdata.ProviderType]*Limiter{},
		limits:   limits,
	}
}

func (r *Registry) For(p marketdata.ProviderType) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[p]
	if !ok {
		l = NewLimiter(p, r.limits(p))
		r.limiters[p] = l
	}
	return l
}

// StatusAll snapshots every limiter created so far.
func (r *Registry) StatusAll() map[marketdata.ProviderType]Status {
	r.mu.Lock()
	limiters := make(map[marketdata.ProviderType]*Limiter, len(r.limiters))
	for p, l := range r.limiters {
		limiters[p] = l
	}
	r.mu.Unlock()

	out := make(map[marketdata.ProviderType]Status, len(limiters))
	for p, l := range limiters {
		out[p] = l.Status()
	}
	return out
}
